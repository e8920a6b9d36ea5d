package ftpsession

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"
)

// EntryType is the kind of a directory listing entry.
type EntryType int

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDir
	EntryLink
)

func (t EntryType) String() string {
	switch t {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	case EntryLink:
		return "link"
	}
	return "unknown"
}

// Entry is one line of a LIST reply.
type Entry struct {
	Name string
	Type EntryType
	Size int64

	// Time is the modification time when the format carries one. Unix
	// listings without a year are placed in the last twelve months.
	Time time.Time

	// Target is the destination of a symbolic link
	Target string

	// Raw is the line as sent by the server
	Raw string
}

// ListingParser decodes one line of a LIST reply. It returns false when
// the line is not in its format, so the next parser can try.
type ListingParser interface {
	Parse(line string) (*Entry, bool)
}

// ListingParserFunc adapts a function to ListingParser.
type ListingParserFunc func(line string) (*Entry, bool)

// Parse calls f.
func (f ListingParserFunc) Parse(line string) (*Entry, bool) {
	return f(line)
}

func defaultParsers() []ListingParser {
	return []ListingParser{EPLFParser{}, DOSParser{}, UnixParser{}}
}

// parseListLine runs the parsers in order. It returns nil for blank lines,
// the "total" header and lines no parser understands; those are logged.
func parseListLine(line string, parsers []ListingParser, logger *slog.Logger) *Entry {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	// "total 42" header of ls -l
	if strings.HasPrefix(trimmed, "total ") {
		if _, err := strconv.Atoi(strings.TrimSpace(trimmed[6:])); err == nil {
			return nil
		}
	}

	for _, p := range parsers {
		if entry, ok := p.Parse(trimmed); ok {
			return entry
		}
	}

	logger.Debug("skipping unknown LIST line format", "raw", line)
	return nil
}

// UnixParser parses "ls -l" style lines, with or without the group
// column, and with symbolic or numeric permissions:
//
//	drwxr-xr-x 2 ftp ftp 4096 Mar 01 12:00 pub
//	-rw-r--r-- 1 ftp 1024 Mar 01  2023 readme.txt
type UnixParser struct{}

func (UnixParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}

	entry := &Entry{Raw: line}
	perms := fields[0]
	switch {
	case strings.ContainsRune("-dlbcps", rune(perms[0])) && len(perms) >= 10:
		switch perms[0] {
		case 'd':
			entry.Type = EntryDir
		case 'l':
			entry.Type = EntryLink
		default:
			entry.Type = EntryFile
		}
	case isOctal(perms):
		entry.Type = EntryFile
	default:
		return nil, false
	}

	// size is followed by month, day, time-or-year, then the name
	var sizeIdx int
	switch {
	case len(fields) >= 9 && isDigits(fields[4]) && isMonth(fields[5]):
		sizeIdx = 4
	case isDigits(fields[3]) && isMonth(fields[4]):
		sizeIdx = 3
	default:
		return nil, false
	}
	size, err := strconv.ParseInt(fields[sizeIdx], 10, 64)
	if err != nil {
		return nil, false
	}
	entry.Size = size
	entry.Time = unixTime(fields[sizeIdx+1], fields[sizeIdx+2], fields[sizeIdx+3], time.Now())

	name := nameAfterFields(line, sizeIdx+4)
	if name == "" {
		return nil, false
	}
	if entry.Type == EntryLink {
		if before, after, ok := strings.Cut(name, " -> "); ok {
			name, entry.Target = before, after
		}
	}
	entry.Name = name
	return entry, true
}

// nameAfterFields returns the rest of line after skipping n fields, so
// names with repeated spaces survive.
func nameAfterFields(line string, n int) string {
	rest := line
	for range n {
		rest = strings.TrimLeft(rest, " \t")
		i := strings.IndexAny(rest, " \t")
		if i == -1 {
			return ""
		}
		rest = rest[i:]
	}
	return strings.TrimLeft(rest, " \t")
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

func isMonth(s string) bool {
	_, ok := months[strings.ToLower(s)]
	return ok
}

// unixTime decodes "Mar 01 12:00" or "Mar 01 2023". The zero time is
// returned when the fields do not parse.
func unixTime(mon, day, hm string, now time.Time) time.Time {
	m, ok := months[strings.ToLower(mon)]
	d, err := strconv.Atoi(day)
	if !ok || err != nil {
		return time.Time{}
	}
	if h, mi, ok := strings.Cut(hm, ":"); ok {
		hh, err1 := strconv.Atoi(h)
		mm, err2 := strconv.Atoi(mi)
		if err1 != nil || err2 != nil {
			return time.Time{}
		}
		t := time.Date(now.Year(), m, d, hh, mm, 0, 0, time.UTC)
		if t.After(now.AddDate(0, 0, 1)) {
			t = t.AddDate(-1, 0, 0)
		}
		return t
	}
	year, err := strconv.Atoi(hm)
	if err != nil {
		return time.Time{}
	}
	return time.Date(year, m, d, 0, 0, 0, 0, time.UTC)
}

// DOSParser parses IIS/Windows style lines:
//
//	12-14-23  12:22PM           1037794 large-document.pdf
//	09-24-24  10:30AM       <DIR>          logger
type DOSParser struct{}

func (DOSParser) Parse(line string) (*Entry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSDate(fields[0]) {
		return nil, false
	}
	name := nameAfterFields(line, 3)
	if name == "" {
		return nil, false
	}

	entry := &Entry{Raw: line, Name: name}
	if t, err := time.Parse("01-02-06 03:04PM", strings.ReplaceAll(fields[0], "/", "-")+" "+fields[1]); err == nil {
		entry.Time = t
	}
	if fields[2] == "<DIR>" {
		entry.Type = EntryDir
		return entry, true
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return nil, false
	}
	entry.Type = EntryFile
	entry.Size = size
	return entry, true
}

// isDOSDate accepts MM-DD-YY, MM-DD-YYYY and the same with slashes.
func isDOSDate(s string) bool {
	sep := "-"
	if strings.Contains(s, "/") {
		sep = "/"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 3 {
		return false
	}
	for i, p := range parts {
		if !isDigits(p) {
			return false
		}
		if i < 2 && len(p) > 2 {
			return false
		}
		if i == 2 && len(p) != 2 && len(p) != 4 {
			return false
		}
	}
	return true
}

// EPLFParser parses Easily Parsed LIST Format lines:
//
//	+i8388621.48594,m825718503,r,s280,	djb.html
type EPLFParser struct{}

func (EPLFParser) Parse(line string) (*Entry, bool) {
	if !strings.HasPrefix(line, "+") {
		return nil, false
	}
	i := strings.IndexAny(line, "\t ")
	if i == -1 {
		return nil, false
	}
	facts, name := line[1:i], strings.TrimSpace(line[i+1:])
	if name == "" {
		return nil, false
	}

	entry := &Entry{Raw: line, Name: name, Type: EntryFile}
	for fact := range strings.SplitSeq(facts, ",") {
		if fact == "" {
			continue
		}
		switch fact[0] {
		case '/':
			entry.Type = EntryDir
		case 's':
			if size, err := strconv.ParseInt(fact[1:], 10, 64); err == nil && size >= 0 {
				entry.Size = size
			}
		case 'm':
			if sec, err := strconv.ParseInt(fact[1:], 10, 64); err == nil {
				entry.Time = time.Unix(sec, 0).UTC()
			}
		}
	}
	return entry, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func isOctal(s string) bool {
	if len(s) < 3 || len(s) > 4 {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '7' {
			return false
		}
	}
	return true
}

// WalkFunc is called by Walk for every entry. Returning fs.SkipDir for a
// directory skips its contents, and for a file skips the rest of the
// directory. Any other error stops the walk.
type WalkFunc func(path string, entry *Entry, err error) error

// Walk lists root and every directory below it, depth first, calling fn
// for each entry. Symbolic links are not followed. A listing failure is
// passed to fn with the directory's path.
func (s *Session) Walk(ctx context.Context, root string, fn WalkFunc) error {
	root = path.Clean(root)
	return s.walk(ctx, root, fn)
}

func (s *Session) walk(ctx context.Context, dir string, fn WalkFunc) error {
	entries, err := s.List(ctx, dir)
	if err != nil {
		return fn(dir, nil, err)
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		p := path.Join(dir, e.Name)
		err := fn(p, e, nil)
		if errors.Is(err, fs.SkipDir) {
			if e.Type == EntryDir {
				continue
			}
			return nil
		}
		if err != nil {
			return err
		}
		if e.Type == EntryDir {
			if err := s.walk(ctx, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

package ftpsession

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MakeDir creates a remote directory (MKD) and returns the path the
// server reports for it. A 257 reply is success; any other reply is a
// command error carrying the server's code and text. The session stays
// Authenticated either way.
//
// Example:
//
//	dir, err := s.MakeDir(ctx, "/pub/new")
//	var fe *ftpsession.Error
//	if errors.As(err, &fe) && fe.Code == 550 {
//	    fmt.Println("permission denied:", fe.Response)
//	}
func (s *Session) MakeDir(ctx context.Context, path string) (string, error) {
	reply, err := s.do(ctx, NewCommand("MKD", path, 257))
	if err != nil {
		return "", err
	}
	if dir, ok := parseQuotedPath(reply.Message); ok {
		return dir, nil
	}
	return path, nil
}

// ChangeDir changes the remote working directory and refreshes the
// cached one.
func (s *Session) ChangeDir(ctx context.Context, path string) error {
	if _, err := s.do(ctx, NewCommand("CWD", path, 250, 200)); err != nil {
		return err
	}
	_, err := s.CurrentDir(ctx)
	if err != nil && KindOf(err) != KindCommand {
		return err
	}
	return nil
}

// ChangeDirUp moves to the parent directory (CDUP).
func (s *Session) ChangeDirUp(ctx context.Context) error {
	if _, err := s.do(ctx, NewCommand("CDUP", "", 250, 200)); err != nil {
		return err
	}
	_, err := s.CurrentDir(ctx)
	if err != nil && KindOf(err) != KindCommand {
		return err
	}
	return nil
}

// CurrentDir asks the server for the working directory (PWD).
func (s *Session) CurrentDir(ctx context.Context) (string, error) {
	reply, err := s.do(ctx, NewCommand("PWD", "", 257))
	if err != nil {
		return "", err
	}
	dir, ok := parseQuotedPath(reply.Message)
	if !ok {
		return "", &Error{Kind: KindCommand, Command: "PWD", Code: reply.Code, Response: reply.Message,
			Err: fmt.Errorf("invalid PWD response: %s", reply.Message)}
	}
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
	return dir, nil
}

// RemoveDir removes a remote directory (RMD).
func (s *Session) RemoveDir(ctx context.Context, path string) error {
	_, err := s.do(ctx, NewCommand("RMD", path, 250))
	return err
}

// Delete removes a remote file (DELE).
func (s *Session) Delete(ctx context.Context, path string) error {
	_, err := s.do(ctx, NewCommand("DELE", path, 250))
	return err
}

// Rename renames a file or directory (RNFR then RNTO).
func (s *Session) Rename(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return wrapError(KindCommand, "RNFR", err)
	}
	if err := s.begin("RNFR"); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, s.ctrl.interrupt)
	err := s.rename(from, to)
	stop()
	err = withContext(ctx, err)
	s.end(err)
	return err
}

func (s *Session) rename(from, to string) error {
	rnfr := NewCommand("RNFR", from, 350)
	reply, err := s.exchange(rnfr)
	if err != nil {
		return err
	}
	if reply.Code != 350 {
		return replyError(KindCommand, rnfr.Verb, reply)
	}

	rnto := NewCommand("RNTO", to, 250)
	reply, err = s.exchange(rnto)
	if err != nil {
		return err
	}
	return s.check(KindCommand, rnto, reply)
}

// Size returns the size of a remote file in bytes (SIZE, RFC 3659).
// The size depends on the current TYPE; binary gives the exact size.
func (s *Session) Size(ctx context.Context, path string) (int64, error) {
	reply, err := s.do(ctx, NewCommand("SIZE", path, 213))
	if err != nil {
		return 0, err
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(reply.Message), 10, 64)
	if perr != nil {
		return 0, &Error{Kind: KindCommand, Command: "SIZE", Code: reply.Code, Response: reply.Message,
			Err: fmt.Errorf("invalid SIZE response: %w", perr)}
	}
	return size, nil
}

// ModTime returns the modification time of a remote file (MDTM, RFC 3659).
func (s *Session) ModTime(ctx context.Context, path string) (time.Time, error) {
	reply, err := s.do(ctx, NewCommand("MDTM", path, 213))
	if err != nil {
		return time.Time{}, err
	}

	// YYYYMMDDHHMMSS[.sss], always UTC
	stamp := strings.TrimSpace(reply.Message)
	if i := strings.IndexByte(stamp, '.'); i != -1 {
		stamp = stamp[:i]
	}
	t, perr := time.Parse("20060102150405", stamp)
	if perr != nil {
		return time.Time{}, &Error{Kind: KindCommand, Command: "MDTM", Code: reply.Code, Response: reply.Message,
			Err: fmt.Errorf("invalid MDTM response: %w", perr)}
	}
	return t.UTC(), nil
}

// Noop sends NOOP. It is also used by the idle keep-alive.
func (s *Session) Noop(ctx context.Context) error {
	_, err := s.do(ctx, NewCommand("NOOP", "", 200))
	return err
}

// Features queries the server with FEAT (RFC 2389) and returns a map of
// feature names to their parameters.
//
// Example:
//
//	feats, err := s.Features(ctx)
//	if _, ok := feats["EPSV"]; ok {
//	    fmt.Println("server supports EPSV")
//	}
func (s *Session) Features(ctx context.Context) (map[string]string, error) {
	reply, err := s.do(ctx, NewCommand("FEAT", "", 211))
	if err != nil {
		return nil, err
	}
	return parseFeatureLines(reply.Lines), nil
}

// Quote sends a raw command and returns the final reply without judging
// it; only control-channel failures are errors.
//
// Example:
//
//	reply, err := s.Quote(ctx, "SITE", "CHMOD", "755", "script.sh")
func (s *Session) Quote(ctx context.Context, verb string, args ...string) (*Reply, error) {
	cmd := NewCommand(verb, strings.Join(args, " "))
	if err := ctx.Err(); err != nil {
		return nil, wrapError(KindCommand, cmd.Verb, err)
	}
	if err := s.begin(cmd.Verb); err != nil {
		return nil, err
	}
	s.forgetSettings(cmd.Verb)
	stop := context.AfterFunc(ctx, s.ctrl.interrupt)
	reply, err := s.exchange(cmd)
	stop()
	err = withContext(ctx, err)
	s.end(err)
	return reply, err
}

// forgetSettings drops the cached TYPE or MODE when a raw command may
// have changed it, so the next transfer sends its own.
func (s *Session) forgetSettings(verb string) {
	switch verb {
	case "TYPE":
		s.currentType = ""
	case "MODE":
		s.modeUnknown = true
	}
}

// parseFeatureLines parses the lines of a FEAT response.
// Supports both formats:
// - RFC 2389: "211-Features:\r\n FEAT1\r\n FEAT2 params\r\n211 End"
// - Traditional: "211-Features\r\n211-FEAT1\r\n211-FEAT2 params\r\n211 End"
func parseFeatureLines(lines []string) map[string]string {
	features := make(map[string]string)
	for i, line := range lines {
		var feat string
		switch {
		case strings.HasPrefix(line, " "):
			feat = strings.TrimSpace(line)
		case i > 0 && i < len(lines)-1 && len(line) >= 4 && line[3] == '-':
			feat = strings.TrimSpace(line[4:])
		default:
			continue
		}
		if feat == "" {
			continue
		}

		name, params, _ := strings.Cut(feat, " ")
		features[strings.ToUpper(name)] = params
	}
	return features
}

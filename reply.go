package ftpsession

import (
	"bufio"
	"fmt"
	"strings"
)

// ReplyClass is the outcome category of a reply, taken from the first digit
// of its code.
type ReplyClass int

const (
	// ClassUnknown is used for codes outside 1xx-5xx.
	ClassUnknown ReplyClass = iota
	// ClassPreliminary (1xx): the action is starting, expect another reply.
	ClassPreliminary
	// ClassSuccess (2xx): the action completed.
	ClassSuccess
	// ClassNeedsMoreInfo (3xx): the command was accepted, send the next one.
	ClassNeedsMoreInfo
	// ClassTransientFailure (4xx): the action failed, retrying may work.
	ClassTransientFailure
	// ClassPermanentFailure (5xx): the action failed.
	ClassPermanentFailure
)

func (c ReplyClass) String() string {
	switch c {
	case ClassPreliminary:
		return "preliminary"
	case ClassSuccess:
		return "success"
	case ClassNeedsMoreInfo:
		return "needs-more-info"
	case ClassTransientFailure:
		return "transient-failure"
	case ClassPermanentFailure:
		return "permanent-failure"
	}
	return "unknown"
}

// ClassOf returns the class of a reply code.
func ClassOf(code int) ReplyClass {
	switch code / 100 {
	case 1:
		return ClassPreliminary
	case 2:
		return ClassSuccess
	case 3:
		return ClassNeedsMoreInfo
	case 4:
		return ClassTransientFailure
	case 5:
		return ClassPermanentFailure
	}
	return ClassUnknown
}

// IsFailure reports whether the class is a transient or permanent failure,
// or unknown.
func (c ReplyClass) IsFailure() bool {
	return c == ClassTransientFailure || c == ClassPermanentFailure || c == ClassUnknown
}

// ReplyLine is one decoded line of a server reply.
type ReplyLine struct {
	// Code is the three-digit reply code.
	Code int
	// Text is everything after the separator.
	Text string
	// Continues is true when the separator is '-', meaning more lines follow.
	Continues bool
}

// ParseReplyLine decodes a single reply line. Trailing CR/LF are ignored.
// The line must start with three ASCII digits followed by '-' or ' '.
func ParseReplyLine(line []byte) (ReplyLine, error) {
	s := strings.TrimRight(string(line), "\r\n")
	if len(s) < 4 {
		return ReplyLine{}, wrapError(KindParse, "", fmt.Errorf("reply line too short: %q", s))
	}
	code := 0
	for i := range 3 {
		ch := s[i]
		if ch < '0' || ch > '9' {
			return ReplyLine{}, wrapError(KindParse, "", fmt.Errorf("invalid reply code: %q", s[:3]))
		}
		code = code*10 + int(ch-'0')
	}
	switch s[3] {
	case ' ':
		return ReplyLine{Code: code, Text: s[4:]}, nil
	case '-':
		return ReplyLine{Code: code, Text: s[4:], Continues: true}, nil
	}
	return ReplyLine{}, wrapError(KindParse, "", fmt.Errorf("invalid reply separator: %q", s))
}

// Reply is a complete, possibly multi-line, server reply.
type Reply struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the human-readable text, one line per reply line
	Message string

	// Lines contains the raw lines of the reply
	Lines []string
}

// Class returns the reply's outcome category.
func (r *Reply) Class() ReplyClass {
	return ClassOf(r.Code)
}

// String returns the full reply as received.
func (r *Reply) String() string {
	return strings.Join(r.Lines, "\n")
}

// readReply reads one complete reply.
//
// Single-line format: "220 Welcome\r\n"
// Multi-line format:
//
//	"220-Welcome to FTP\r\n"
//	" text lines, RFC 2389 style\r\n"
//	"220 Ready\r\n"
//
// Only the first line must be well formed. Inside a multi-line reply any
// line that is not the terminating "ddd " line is text.
func readReply(r *bufio.Reader) (*Reply, error) {
	raw, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	first, err := ParseReplyLine([]byte(raw))
	if err != nil {
		return nil, err
	}

	line := strings.TrimRight(raw, "\r\n")
	reply := &Reply{Code: first.Code, Lines: []string{line}}
	text := []string{first.Text}
	if !first.Continues {
		reply.Message = first.Text
		return reply, nil
	}

	terminator := fmt.Sprintf("%03d ", first.Code)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line := strings.TrimRight(raw, "\r\n")
		reply.Lines = append(reply.Lines, line)

		switch {
		case strings.HasPrefix(line, terminator):
			text = append(text, line[4:])
			reply.Message = strings.Join(text, "\n")
			return reply, nil
		case len(line) >= 4 && line[:3] == terminator[:3] && line[3] == '-':
			text = append(text, line[4:])
		default:
			text = append(text, strings.TrimPrefix(line, " "))
		}
	}
}

package ftpsession

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure reported by a Session.
type ErrorKind int

const (
	// KindConnect means the control connection could not be established
	// or the server refused service in its greeting.
	KindConnect ErrorKind = iota + 1
	// KindAuth means the server rejected the credentials.
	KindAuth
	// KindCommand means a command was answered with a failure reply.
	KindCommand
	// KindSequencing means a command was issued while another one was
	// still outstanding. It is a programming error and is never retried.
	KindSequencing
	// KindParse means the server sent a reply that could not be decoded.
	KindParse
	// KindNegotiation means a data connection could not be set up.
	KindNegotiation
	// KindTransfer means the data connection failed mid-transfer.
	KindTransfer
	// KindIO means the control connection was lost.
	KindIO
	// KindState means the operation is not legal in the session's current state.
	KindState
)

var kindNames = map[ErrorKind]string{
	KindConnect:     "connect",
	KindAuth:        "auth",
	KindCommand:     "command",
	KindSequencing:  "sequencing",
	KindParse:       "parse",
	KindNegotiation: "negotiation",
	KindTransfer:    "transfer",
	KindIO:          "io",
	KindState:       "state",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. They match any *Error of the same kind:
//
//	if errors.Is(err, ftpsession.ErrAuth) {
//	    // ask for new credentials
//	}
var (
	ErrConnect     = &Error{Kind: KindConnect}
	ErrAuth        = &Error{Kind: KindAuth}
	ErrCommand     = &Error{Kind: KindCommand}
	ErrSequencing  = &Error{Kind: KindSequencing}
	ErrParse       = &Error{Kind: KindParse}
	ErrNegotiation = &Error{Kind: KindNegotiation}
	ErrTransfer    = &Error{Kind: KindTransfer}
	ErrIO          = &Error{Kind: KindIO}
	ErrState       = &Error{Kind: KindState}
)

// Error is the structured failure returned by every Session operation.
// It carries the command/reply context when the server was involved.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Command is the FTP verb that was being executed (e.g. "MKD"), if any.
	Command string

	// Code is the server's reply code, or 0 when no reply was involved.
	Code int

	// Response is the server's reply text, if any.
	Response string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "ftp: " + e.Kind.String() + " error"
	if e.Command != "" {
		msg += ": " + e.Command
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(": %s (code %d)", e.Response, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Command == "" && t.Code == 0 && t.Err == nil
}

// Recoverable reports whether the session remains usable after this error.
// A rejected login is not: the session is Disconnected and a new one is
// needed to retry with other credentials. A 421 reply always ends the
// session.
func (e *Error) Recoverable() bool {
	if e.Code == 421 {
		return false
	}
	switch e.Kind {
	case KindCommand, KindNegotiation, KindTransfer, KindState, KindSequencing:
		return true
	}
	return false
}

// Is4xx returns true if the reply code is in the 4xx range (transient failure).
func (e *Error) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the reply code is in the 5xx range (permanent failure).
func (e *Error) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// This can be used to implement retry logic.
func (e *Error) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *Error) IsPermanent() bool {
	return e.Is5xx()
}

// replyError builds an error of the given kind from a server reply.
func replyError(kind ErrorKind, cmd string, r *Reply) *Error {
	return &Error{Kind: kind, Command: cmd, Code: r.Code, Response: r.Message}
}

// wrapError builds an error of the given kind around a cause.
func wrapError(kind ErrorKind, cmd string, err error) *Error {
	return &Error{Kind: kind, Command: cmd, Err: err}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

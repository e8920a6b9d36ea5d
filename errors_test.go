package ftpsession

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestError_Is(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("mkdir failed: %w", &Error{Kind: KindCommand, Command: "MKD", Code: 550, Response: "Permission denied"})

	if !errors.Is(err, ErrCommand) {
		t.Error("errors.Is(err, ErrCommand) = false, want true")
	}
	if errors.Is(err, ErrTransfer) {
		t.Error("errors.Is(err, ErrTransfer) = true, want false")
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatal("errors.As failed")
	}
	if fe.Code != 550 || fe.Command != "MKD" {
		t.Errorf("got %+v", fe)
	}

	// a non-sentinel target with the same kind does not match
	other := &Error{Kind: KindCommand, Code: 550}
	if errors.Is(err, other) {
		t.Error("errors.Is matched a non-sentinel error")
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()

	err := wrapError(KindIO, "LIST", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("cause not reachable through Unwrap")
	}
	if !errors.Is(err, ErrIO) {
		t.Error("errors.Is(err, ErrIO) = false")
	}
}

func TestError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", &Error{Kind: KindState}, "ftp: state error"},
		{"with command", &Error{Kind: KindSequencing, Command: "LIST"}, "ftp: sequencing error: LIST"},
		{
			"with reply",
			&Error{Kind: KindCommand, Command: "MKD", Code: 550, Response: "Permission denied"},
			"ftp: command error: MKD: Permission denied (code 550)",
		},
		{
			"with cause",
			&Error{Kind: KindIO, Command: "NOOP", Err: io.EOF},
			"ftp: io error: NOOP: EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Recoverable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *Error
		want bool
	}{
		{&Error{Kind: KindCommand, Code: 550}, true},
		{&Error{Kind: KindCommand, Code: 421}, false},
		{&Error{Kind: KindNegotiation}, true},
		{&Error{Kind: KindTransfer, Code: 426}, true},
		{&Error{Kind: KindState}, true},
		{&Error{Kind: KindSequencing}, true},
		{&Error{Kind: KindAuth, Code: 530}, false},
		{&Error{Kind: KindConnect}, false},
		{&Error{Kind: KindIO}, false},
		{&Error{Kind: KindParse}, false},
	}

	for _, tt := range tests {
		if got := tt.err.Recoverable(); got != tt.want {
			t.Errorf("%v Recoverable() = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestError_CodeRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      int
		temporary bool
		permanent bool
	}{
		{421, true, false},
		{450, true, false},
		{500, false, true},
		{550, false, true},
		{0, false, false},
	}

	for _, tt := range tests {
		e := &Error{Kind: KindCommand, Code: tt.code}
		if e.IsTemporary() != tt.temporary {
			t.Errorf("code %d IsTemporary() = %v, want %v", tt.code, e.IsTemporary(), tt.temporary)
		}
		if e.IsPermanent() != tt.permanent {
			t.Errorf("code %d IsPermanent() = %v, want %v", tt.code, e.IsPermanent(), tt.permanent)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	if got := KindOf(fmt.Errorf("wrapped: %w", wrapError(KindNegotiation, "PASV", nil))); got != KindNegotiation {
		t.Errorf("KindOf() = %v, want negotiation", got)
	}
	if got := KindOf(io.EOF); got != 0 {
		t.Errorf("KindOf(io.EOF) = %v, want 0", got)
	}
	if got := ErrorKind(42).String(); got != "kind(42)" {
		t.Errorf("String() = %q", got)
	}
}

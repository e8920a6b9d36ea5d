package ftpsession

import (
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestCRLFEncoder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"LF", "a\nb\n", "a\r\nb\r\n"},
		{"already CRLF", "a\r\nb\r\n", "a\r\nb\r\n"},
		{"mixed", "a\nb\r\nc", "a\r\nb\r\nc"},
		{"lone CR", "a\rb", "a\rb"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// one byte at a time, so CR and LF arrive in separate reads
			got, err := io.ReadAll(newCRLFEncoder(iotest.OneByteReader(strings.NewReader(tt.in))))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("encoded %q = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCRLFDecoder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"CRLF", "a\r\nb\r\n", "a\nb\n"},
		{"bare LF", "a\nb", "a\nb"},
		{"lone CR", "a\rb", "a\rb"},
		{"trailing CR", "a\r", "a\r"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newCRLFDecoder(iotest.OneByteReader(strings.NewReader(tt.in))))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("decoded %q = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

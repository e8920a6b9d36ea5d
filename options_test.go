package ftpsession

import (
	"crypto/tls"
	"log/slog"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	s, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want disconnected", s.State())
	}
	if s.TransferMode() != Passive {
		t.Errorf("TransferMode() = %v, want passive", s.TransferMode())
	}
	if s.DataType() != Binary {
		t.Errorf("DataType() = %v, want binary", s.DataType())
	}
	if s.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", s.timeout)
	}
	if s.Addr() != "" {
		t.Errorf("Addr() = %q before Connect", s.Addr())
	}

	other, _ := New()
	if s.ID() == "" || s.ID() == other.ID() {
		t.Errorf("session IDs %q and %q are not unique", s.ID(), other.ID())
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
		check   func(*testing.T, *Session)
	}{
		{
			name: "timeout",
			opts: []Option{WithTimeout(5 * time.Second)},
			check: func(t *testing.T, s *Session) {
				if s.timeout != 5*time.Second {
					t.Errorf("timeout = %v", s.timeout)
				}
			},
		},
		{
			name:    "negative timeout",
			opts:    []Option{WithTimeout(-time.Second)},
			wantErr: true,
		},
		{
			name: "active mode",
			opts: []Option{WithActiveMode()},
			check: func(t *testing.T, s *Session) {
				if s.TransferMode() != Active {
					t.Errorf("TransferMode() = %v", s.TransferMode())
				}
			},
		},
		{
			name: "explicit TLS adds a session cache",
			opts: []Option{WithExplicitTLS(&tls.Config{ServerName: "ftp.example.com"})},
			check: func(t *testing.T, s *Session) {
				if s.tlsMode != tlsModeExplicit {
					t.Errorf("tlsMode = %v", s.tlsMode)
				}
				if s.tlsConfig.ClientSessionCache == nil {
					t.Error("ClientSessionCache not set")
				}
			},
		},
		{
			name:    "explicit and implicit TLS",
			opts:    []Option{WithExplicitTLS(nil), WithImplicitTLS(nil)},
			wantErr: true,
		},
		{
			name:    "implicit and explicit TLS",
			opts:    []Option{WithImplicitTLS(nil), WithExplicitTLS(nil)},
			wantErr: true,
		},
		{
			name:    "compression level out of range",
			opts:    []Option{WithCompression(10)},
			wantErr: true,
		},
		{
			name: "compression",
			opts: []Option{WithCompression(-1)},
			check: func(t *testing.T, s *Session) {
				if !s.compress || s.exec.level != -1 {
					t.Errorf("compress = %v, level = %d", s.compress, s.exec.level)
				}
			},
		},
		{
			name:    "zero parse errors",
			opts:    []Option{WithMaxParseErrors(0)},
			wantErr: true,
		},
		{
			name: "bandwidth limit",
			opts: []Option{WithBandwidthLimit(1024)},
			check: func(t *testing.T, s *Session) {
				if s.exec.limiter == nil || s.exec.limiter.Rate() != 1024 {
					t.Error("limiter not configured")
				}
			},
		},
		{
			name: "custom parser runs first",
			opts: []Option{WithCustomListParser(ListingParserFunc(func(string) (*Entry, bool) { return nil, false }))},
			check: func(t *testing.T, s *Session) {
				if len(s.parsers) != len(defaultParsers())+1 {
					t.Errorf("len(parsers) = %d", len(s.parsers))
				}
				if _, ok := s.parsers[0].(ListingParserFunc); !ok {
					t.Errorf("parsers[0] = %T", s.parsers[0])
				}
			},
		},
		{
			name: "nil logger",
			opts: []Option{WithLogger(nil)},
			check: func(t *testing.T, s *Session) {
				if s.logger == nil {
					t.Error("logger is nil")
				}
			},
		},
		{
			name: "logger",
			opts: []Option{WithLogger(slog.New(slog.DiscardHandler))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Error("New() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if tt.check != nil {
				tt.check(t, s)
			}
		})
	}
}

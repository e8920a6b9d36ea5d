package ftpsession

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithTimeout sets the timeout for connection and operations.
// This applies to the initial connection, every control-channel read and
// write, and data connection setup.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		if timeout < 0 {
			return fmt.Errorf("negative timeout: %v", timeout)
		}
		s.timeout = timeout
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before sending NOOP keep-alive.
// If the control connection is idle for longer than this duration while the
// session is authenticated, a NOOP command is sent automatically to prevent
// the server from closing the connection. Set to 0 to disable.
//
// Example:
//
//	s, _ := ftpsession.New(ftpsession.WithIdleTimeout(5 * time.Minute))
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		s.idleTimeout = timeout
		return nil
	}
}

// WithExplicitTLS enables explicit TLS mode (AUTH TLS).
// The client connects on the standard FTP port (21) and upgrades to TLS
// before logging in. Data connections are protected as well (PROT P).
//
// A ClientSessionCache is added if not present so that data connections
// can resume the control connection's TLS session, which servers such as
// vsftpd and ProFTPD require.
func WithExplicitTLS(config *tls.Config) Option {
	return func(s *Session) error {
		if s.tlsMode == tlsModeImplicit {
			return fmt.Errorf("explicit TLS cannot be combined with implicit TLS")
		}
		s.tlsConfig = withSessionCache(config)
		s.tlsMode = tlsModeExplicit
		return nil
	}
}

// WithImplicitTLS enables implicit TLS mode.
// The client connects directly with TLS, typically on port 990.
func WithImplicitTLS(config *tls.Config) Option {
	return func(s *Session) error {
		if s.tlsMode == tlsModeExplicit {
			return fmt.Errorf("implicit TLS cannot be combined with explicit TLS")
		}
		s.tlsConfig = withSessionCache(config)
		s.tlsMode = tlsModeImplicit
		return nil
	}
}

func withSessionCache(config *tls.Config) *tls.Config {
	if config == nil {
		config = &tls.Config{}
	}
	if config.ClientSessionCache == nil {
		config.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}
	return config
}

// WithLogger enables debug logging using the provided logger.
// All FTP commands and replies are logged at debug level, with the
// session ID attached. Passwords are never logged.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := ftpsession.New(ftpsession.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			logger = discardLogger()
		}
		s.baseLogger = logger
		return nil
	}
}

// WithDialer sets a custom net.Dialer for the control and passive data connections.
func WithDialer(dialer *net.Dialer) Option {
	return func(s *Session) error {
		s.dialer = dialer
		return nil
	}
}

// WithActiveMode starts the session in active mode (PORT/EPRT) instead of
// passive mode. It can be changed later with SetTransferMode.
//
// Active mode rarely works behind NAT; passive mode is the default.
func WithActiveMode() Option {
	return func(s *Session) error {
		s.mode = Active
		return nil
	}
}

// WithDisableEPSV makes passive negotiation use PASV directly.
// By default EPSV is tried first and PASV is used after a 502 reply.
func WithDisableEPSV() Option {
	return func(s *Session) error {
		s.disableEPSV = true
		return nil
	}
}

// WithDataType sets the initial representation type for file transfers.
func WithDataType(t DataType) Option {
	return func(s *Session) error {
		s.dataType = t
		return nil
	}
}

// WithAccount sets the account sent with ACCT when the server asks for
// one during login (reply 332).
func WithAccount(account string) Option {
	return func(s *Session) error {
		s.account = account
		return nil
	}
}

// WithBandwidthLimit caps data transfer speed in bytes per second.
// Zero or negative disables the limit.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		s.exec.limiter = ratelimit.New(bytesPerSecond)
		return nil
	}
}

// WithCompression requests MODE Z (deflate) for data transfers. If the
// server rejects MODE Z the session falls back to stream mode.
func WithCompression(level int) Option {
	return func(s *Session) error {
		if level < -1 || level > 9 {
			return fmt.Errorf("invalid compression level: %d", level)
		}
		s.compress = true
		s.exec.level = level
		return nil
	}
}

// WithProgress registers a callback invoked with the running byte count
// of every transfer.
func WithProgress(fn func(bytesTransferred int64)) Option {
	return func(s *Session) error {
		s.exec.progress = fn
		return nil
	}
}

// WithMaxParseErrors sets how many consecutive malformed replies are
// tolerated before the session is dropped. The default is 3.
func WithMaxParseErrors(n int) Option {
	return func(s *Session) error {
		if n < 1 {
			return fmt.Errorf("max parse errors must be positive: %d", n)
		}
		s.maxParseErrors = n
		return nil
	}
}

// WithAbortDrainTimeout bounds the wait for the second reply after ABOR,
// which some servers never send. The default is 2 seconds.
func WithAbortDrainTimeout(d time.Duration) Option {
	return func(s *Session) error {
		s.abortDrain = d
		return nil
	}
}

// WithCustomListParser adds a directory listing parser tried before the
// built-in ones.
func WithCustomListParser(parser ListingParser) Option {
	return func(s *Session) error {
		s.parsers = append([]ListingParser{parser}, s.parsers...)
		return nil
	}
}

// tlsMode represents the TLS mode for the connection.
type tlsMode int

const (
	tlsModeNone tlsMode = iota
	tlsModeExplicit
	tlsModeImplicit
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

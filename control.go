package ftpsession

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrChannelClosed is the cause of IO errors returned after Close.
var ErrChannelClosed = errors.New("control channel closed")

// ControlConfig configures a ControlChannel.
type ControlConfig struct {
	// Timeout bounds the dial and every read and write. Zero disables deadlines.
	Timeout time.Duration

	// Dialer is used to open the socket. A zero Dialer is used if nil.
	Dialer *net.Dialer

	// ImplicitTLS, when set, wraps the socket in TLS before the greeting.
	ImplicitTLS *tls.Config

	// Logger receives command and reply traces at debug level.
	Logger *slog.Logger
}

// ControlChannel owns the control connection. It sends one command at a
// time and decodes the replies. The server greeting counts as the first
// outstanding reply.
type ControlChannel struct {
	// conn is the underlying network connection
	conn net.Conn

	// reader is a buffered reader for the control connection
	reader *bufio.Reader

	timeout time.Duration
	logger  *slog.Logger

	// mu protects conn swaps, outstanding and closed
	mu          sync.Mutex
	outstanding int
	closed      bool

	// lastActivity is the UnixNano time of the last send or receive
	lastActivity atomic.Int64

	// interrupted is set once interrupt has been called
	interrupted atomic.Bool
}

// errInterrupted is the cause of IO errors after interrupt.
var errInterrupted = errors.New("control channel interrupted")

// OpenControl dials addr and returns a channel waiting for the greeting.
func OpenControl(ctx context.Context, addr string, cfg ControlConfig) (*ControlChannel, error) {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if cfg.Timeout > 0 && dialer.Timeout == 0 {
		d := *dialer
		d.Timeout = cfg.Timeout
		dialer = &d
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}

	logger.Debug("connecting to ftp server", "addr", addr, "implicit_tls", cfg.ImplicitTLS != nil)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrapError(KindConnect, "", fmt.Errorf("failed to connect: %w", err))
	}

	if cfg.ImplicitTLS != nil {
		tlsConn, err := handshakeClient(ctx, conn, cfg.ImplicitTLS, cfg.Timeout)
		if err != nil {
			conn.Close()
			return nil, wrapError(KindConnect, "", err)
		}
		conn = tlsConn
	}

	c := &ControlChannel{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		timeout:     cfg.Timeout,
		logger:      logger,
		outstanding: 1,
	}
	c.touch()
	return c, nil
}

// handshakeClient wraps conn in a TLS client and completes the handshake.
func handshakeClient(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (*tls.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if timeout > 0 {
		ctx2, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = ctx2
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return tlsConn, nil
}

func (c *ControlChannel) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last command sent or reply received.
func (c *ControlChannel) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Outstanding returns the number of commands awaiting a final reply.
func (c *ControlChannel) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// Send writes one command. It fails with a sequencing error while a
// previous command still awaits its final reply; ABOR is the exception,
// as RFC 959 allows it during a transfer.
func (c *ControlChannel) Send(cmd Command) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wrapError(KindIO, cmd.Verb, ErrChannelClosed)
	}
	if c.outstanding > 0 && cmd.Verb != "ABOR" {
		n := c.outstanding
		c.mu.Unlock()
		return wrapError(KindSequencing, cmd.Verb, fmt.Errorf("%d reply still outstanding", n))
	}
	c.outstanding++
	conn := c.conn
	c.mu.Unlock()

	c.logger.Debug("ftp command", "cmd", cmd.String())

	if c.timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return wrapError(KindIO, cmd.Verb, fmt.Errorf("failed to set write deadline: %w", err))
		}
	}
	if c.interrupted.Load() {
		return wrapError(KindIO, cmd.Verb, errInterrupted)
	}
	if _, err := io.WriteString(conn, cmd.Line()+"\r\n"); err != nil {
		return wrapError(KindIO, cmd.Verb, fmt.Errorf("failed to send command: %w", err))
	}
	c.touch()
	return nil
}

// ReceiveReply blocks until a complete reply arrives. A 1xx reply leaves
// the command outstanding. A malformed reply is reported as a parse error
// and counts as consumed.
func (c *ControlChannel) ReceiveReply() (*Reply, error) {
	return c.receive(c.timeout)
}

func (c *ControlChannel) receive(timeout time.Duration) (*Reply, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, wrapError(KindIO, "", ErrChannelClosed)
	}
	conn, reader := c.conn, c.reader
	c.mu.Unlock()

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, wrapError(KindIO, "", fmt.Errorf("failed to set read deadline: %w", err))
		}
	} else if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, wrapError(KindIO, "", fmt.Errorf("failed to clear read deadline: %w", err))
	}
	// checked after the deadline is set, so a concurrent interrupt wins
	if c.interrupted.Load() {
		return nil, wrapError(KindIO, "", errInterrupted)
	}

	reply, err := readReply(reader)
	if err != nil {
		if KindOf(err) == KindParse {
			c.consume()
			c.logger.Warn("malformed ftp reply", "error", err)
			return nil, err
		}
		if c.interrupted.Load() {
			err = errInterrupted
		}
		return nil, wrapError(KindIO, "", fmt.Errorf("failed to read reply: %w", err))
	}
	c.touch()

	c.logger.Debug("ftp reply", "code", reply.Code, "message", reply.Message)

	if reply.Class() != ClassPreliminary {
		c.consume()
	}
	return reply, nil
}

func (c *ControlChannel) consume() {
	c.mu.Lock()
	if c.outstanding > 0 {
		c.outstanding--
	}
	c.mu.Unlock()
}

// resetOutstanding forgets replies the server never sent.
func (c *ControlChannel) resetOutstanding() {
	c.mu.Lock()
	c.outstanding = 0
	c.mu.Unlock()
}

// Exchange sends cmd and returns its first reply.
func (c *ControlChannel) Exchange(cmd Command) (*Reply, error) {
	if err := c.Send(cmd); err != nil {
		return nil, err
	}
	reply, err := c.ReceiveReply()
	if err != nil {
		if e, ok := err.(*Error); ok && e.Command == "" {
			e.Command = cmd.Verb
		}
		return nil, err
	}
	return reply, nil
}

// StartTLS upgrades the connection in place after a successful AUTH TLS.
func (c *ControlChannel) StartTLS(ctx context.Context, cfg *tls.Config) error {
	c.mu.Lock()
	if c.outstanding > 0 {
		c.mu.Unlock()
		return wrapError(KindSequencing, "AUTH", errors.New("reply outstanding during TLS upgrade"))
	}
	conn := c.conn
	c.mu.Unlock()

	c.logger.Debug("starting TLS handshake", "mode", "explicit")
	tlsConn, err := handshakeClient(ctx, conn, cfg, c.timeout)
	if err != nil {
		return wrapError(KindConnect, "AUTH", err)
	}
	c.logger.Debug("TLS handshake complete", "mode", "explicit")

	c.mu.Lock()
	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.mu.Unlock()
	return nil
}

// LocalAddr returns the local address of the control connection.
func (c *ControlChannel) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.LocalAddr()
}

// RemoteAddr returns the server address of the control connection.
func (c *ControlChannel) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.RemoteAddr()
}

// interrupt unblocks any pending read or write. The channel is unusable
// afterwards.
func (c *ControlChannel) interrupt() {
	c.interrupted.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	_ = conn.SetDeadline(time.Now())
}

// Close closes the connection. Further calls fail with an IO error.
func (c *ControlChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

package ftpsession

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"
)

var (
	// pasvRegex matches the PASV reply format: 227 Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

	// epsvRegex matches the EPSV reply format: 229 Entering Extended Passive Mode (|||port|)
	epsvRegex = regexp.MustCompile(`\((.)(.)(.)(\d+)(.)\)`)
)

// ParsePassiveReply extracts the data address from a 227 reply text.
// Example: "227 Entering Passive Mode (192,168,1,1,200,30)"
// returns "192.168.1.1", 51230 (200*256 + 30).
func ParsePassiveReply(text string) (string, int, error) {
	m := pasvRegex.FindStringSubmatch(text)
	if m == nil {
		return "", 0, fmt.Errorf("invalid PASV reply: %q", text)
	}

	var b [6]int
	for i := range b {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v < 0 || v > 255 {
			return "", 0, fmt.Errorf("invalid PASV field %q in %q", m[i+1], text)
		}
		b[i] = v
	}
	host := net.IPv4(byte(b[0]), byte(b[1]), byte(b[2]), byte(b[3])).String()
	return host, b[4]*256 + b[5], nil
}

// ParseExtendedPassiveReply extracts the port from a 229 reply text.
// Example: "229 Entering Extended Passive Mode (|||6446|)" returns 6446.
// RFC 2428 lets the server pick any delimiter, so "(!!!6446!)" is accepted too.
func ParseExtendedPassiveReply(text string) (int, error) {
	m := epsvRegex.FindStringSubmatch(text)
	if m == nil || m[1] != m[2] || m[2] != m[3] || m[3] != m[5] {
		return 0, fmt.Errorf("invalid EPSV reply: %q", text)
	}
	port, err := strconv.Atoi(m[4])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid EPSV port: %q", m[4])
	}
	return port, nil
}

// formatPORT formats an address for the PORT command.
// Converts "192.168.1.100:50000" to "192,168,1,100,195,80"
func formatPORT(addr *net.TCPAddr) (string, error) {
	ip := addr.IP.To4()
	if ip == nil {
		return "", fmt.Errorf("PORT requires IPv4 address, got %s", addr.IP)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", ip[0], ip[1], ip[2], ip[3], addr.Port/256, addr.Port%256), nil
}

// formatEPRT formats an address for the EPRT command: |proto|addr|port|
// where proto is 1 for IPv4 and 2 for IPv6.
func formatEPRT(addr *net.TCPAddr) string {
	proto := 2
	if addr.IP.To4() != nil {
		proto = 1
	}
	return fmt.Sprintf("|%d|%s|%d|", proto, addr.IP.String(), addr.Port)
}

// resolveDataHost replaces an unroutable PASV host with the control host.
func resolveDataHost(pasvHost, controlHost string) string {
	if ip := net.ParseIP(pasvHost); ip == nil || ip.IsUnspecified() {
		return controlHost
	}
	return pasvHost
}

// dataConn is a data connection for exactly one transfer. establish is
// called after the transfer command has been accepted; it completes the
// connection (accepting the server's connection in active mode) and the
// TLS handshake when the data channel is protected.
type dataConn interface {
	net.Conn
	establish(ctx context.Context) error
}

// negotiator sets up data connections over a control channel.
type negotiator struct {
	ctrl        *ControlChannel
	host        string
	dialer      *net.Dialer
	timeout     time.Duration
	tlsConfig   *tls.Config
	disableEPSV bool
	logger      *slog.Logger
}

// negotiate opens a data connection in the given mode. Failures that are
// not control-channel losses are negotiation errors.
func (n *negotiator) negotiate(ctx context.Context, mode TransferMode) (dataConn, error) {
	if mode == Active {
		return n.active()
	}
	return n.passive(ctx)
}

func (n *negotiator) passive(ctx context.Context) (dataConn, error) {
	var addr string

	if !n.disableEPSV {
		reply, err := n.ctrl.Exchange(NewCommand("EPSV", "", 229))
		if err != nil {
			return nil, err
		}
		switch {
		case reply.Code == 229:
			port, perr := ParseExtendedPassiveReply(reply.Message)
			if perr != nil {
				return nil, &Error{Kind: KindNegotiation, Command: "EPSV", Code: reply.Code, Response: reply.Message, Err: perr}
			}
			addr = net.JoinHostPort(n.host, strconv.Itoa(port))
		case reply.Code == 500 || reply.Code == 502:
			n.logger.Debug("EPSV not supported, using PASV", "code", reply.Code)
			n.disableEPSV = true
		}
	}

	if addr == "" {
		reply, err := n.ctrl.Exchange(NewCommand("PASV", "", 227))
		if err != nil {
			return nil, err
		}
		if reply.Code != 227 {
			return nil, replyError(KindNegotiation, "PASV", reply)
		}
		host, port, perr := ParsePassiveReply(reply.Message)
		if perr != nil {
			return nil, &Error{Kind: KindNegotiation, Command: "PASV", Code: reply.Code, Response: reply.Message, Err: perr}
		}
		addr = net.JoinHostPort(resolveDataHost(host, n.host), strconv.Itoa(port))
	}

	n.logger.Debug("opening passive data connection", "addr", addr)
	dctx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	conn, err := n.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, wrapError(KindNegotiation, "PASV", fmt.Errorf("failed to connect to data port: %w", err))
	}
	return newPassiveDataConn(conn, n.tlsConfig, n.timeout), nil
}

// active listens on the control connection's interface and announces the
// address with PORT (IPv4) or EPRT (IPv6).
func (n *negotiator) active() (dataConn, error) {
	host := "127.0.0.1"
	if tcp, ok := n.ctrl.LocalAddr().(*net.TCPAddr); ok {
		host = tcp.IP.String()
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, wrapError(KindNegotiation, "PORT", fmt.Errorf("failed to create listener: %w", err))
	}
	addr := ln.Addr().(*net.TCPAddr)

	cmd := NewCommand("EPRT", formatEPRT(addr), 200)
	if arg, ferr := formatPORT(addr); ferr == nil {
		cmd = NewCommand("PORT", arg, 200)
	}

	reply, err := n.ctrl.Exchange(cmd)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if reply.Class() != ClassSuccess {
		ln.Close()
		return nil, replyError(KindNegotiation, cmd.Verb, reply)
	}

	n.logger.Debug("listening for active data connection", "addr", addr.String())
	return &activeDataConn{listener: ln, tlsConfig: n.tlsConfig, timeout: n.timeout}, nil
}

// passiveDataConn is an outbound data connection. The socket is already
// open; establish only performs the TLS handshake.
type passiveDataConn struct {
	mu        sync.Mutex
	net.Conn
	raw       net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

func newPassiveDataConn(raw net.Conn, cfg *tls.Config, timeout time.Duration) *passiveDataConn {
	conn := &deadlineConn{Conn: raw, timeout: timeout}
	return &passiveDataConn{Conn: conn, raw: conn, tlsConfig: cfg, timeout: timeout}
}

func (p *passiveDataConn) establish(ctx context.Context) error {
	if p.tlsConfig == nil {
		return nil
	}
	tlsConn, err := handshakeClient(ctx, p.raw, p.tlsConfig, p.timeout)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.Conn = tlsConn
	p.mu.Unlock()
	return nil
}

// Close closes the TLS layer if it was established, else the socket.
// It is safe to call from another goroutine to abort a transfer.
func (p *passiveDataConn) Close() error {
	p.mu.Lock()
	conn := p.Conn
	p.mu.Unlock()
	err := conn.Close()
	if conn != p.raw {
		_ = p.raw.Close()
	}
	return err
}

// errNotEstablished is returned by I/O on an active connection before establish.
var errNotEstablished = errors.New("data connection not established")

// activeDataConn wraps a listener for active mode connections. It accepts
// exactly one connection.
type activeDataConn struct {
	listener  net.Listener
	tlsConfig *tls.Config
	timeout   time.Duration

	// mu protects conn and closed; Close may run on another goroutine
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (a *activeDataConn) establish(ctx context.Context) error {
	if a.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	stop := context.AfterFunc(ctx, func() { a.listener.Close() })
	defer stop()

	c, err := a.listener.Accept()
	a.listener.Close()
	if err != nil {
		return fmt.Errorf("failed to accept data connection: %w", err)
	}
	var conn net.Conn = &deadlineConn{Conn: c, timeout: a.timeout}

	if a.tlsConfig != nil {
		tlsConn, err := handshakeClient(ctx, conn, a.tlsConfig, a.timeout)
		if err != nil {
			c.Close()
			return err
		}
		conn = tlsConn
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		conn.Close()
		return net.ErrClosed
	}
	a.conn = conn
	return nil
}

func (a *activeDataConn) current() net.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *activeDataConn) Read(p []byte) (int, error) {
	conn := a.current()
	if conn == nil {
		return 0, errNotEstablished
	}
	return conn.Read(p)
}

func (a *activeDataConn) Write(p []byte) (int, error) {
	conn := a.current()
	if conn == nil {
		return 0, errNotEstablished
	}
	return conn.Write(p)
}

func (a *activeDataConn) Close() error {
	a.mu.Lock()
	a.closed = true
	conn := a.conn
	a.mu.Unlock()

	lerr := a.listener.Close()
	if conn != nil {
		return conn.Close()
	}
	if errors.Is(lerr, net.ErrClosed) {
		return nil
	}
	return lerr
}

func (a *activeDataConn) LocalAddr() net.Addr {
	if conn := a.current(); conn != nil {
		return conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeDataConn) RemoteAddr() net.Addr {
	if conn := a.current(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

func (a *activeDataConn) SetDeadline(t time.Time) error {
	if conn := a.current(); conn != nil {
		return conn.SetDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetReadDeadline(t time.Time) error {
	if conn := a.current(); conn != nil {
		return conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetWriteDeadline(t time.Time) error {
	if conn := a.current(); conn != nil {
		return conn.SetWriteDeadline(t)
	}
	return nil
}

// deadlineConn extends the deadline before every read and write, so a
// stalled peer fails the transfer instead of hanging it.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

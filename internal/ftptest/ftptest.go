// Package ftptest provides a scriptable FTP server for tests. Every verb
// has a default behavior that can be replaced with Handle.
package ftptest

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Handler answers one command. arg is everything after the verb.
type Handler func(c *Conn, arg string)

// Server is a minimal FTP server bound to 127.0.0.1.
type Server struct {
	// Addr is the control address, "127.0.0.1:port".
	Addr string

	ln   net.Listener
	pasv net.Listener
	wg   sync.WaitGroup

	mu       sync.Mutex
	handlers map[string]Handler
	greeting []string
	lines    []string
	files    map[string][]byte
	listing  string
	conns    []net.Conn
	closed   bool
}

// NewServer returns a server that is listening but not yet serving.
// It is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	pasv, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		ln.Close()
		t.Fatal(err)
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		ln:       ln,
		pasv:     pasv,
		handlers: make(map[string]Handler),
		greeting: []string{"220 Service ready"},
		files:    make(map[string][]byte),
	}
	t.Cleanup(s.Close)
	return s
}

// Port returns the control port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Handle replaces the behavior for verb.
func (s *Server) Handle(verb string, h Handler) {
	s.mu.Lock()
	s.handlers[strings.ToUpper(verb)] = h
	s.mu.Unlock()
}

// SetGreeting replaces the reply lines sent on connect.
func (s *Server) SetGreeting(lines ...string) {
	s.mu.Lock()
	s.greeting = lines
	s.mu.Unlock()
}

// SetFile stores content served by RETR.
func (s *Server) SetFile(name string, content []byte) {
	s.mu.Lock()
	s.files[name] = content
	s.mu.Unlock()
}

// File returns the content uploaded with STOR or APPE.
func (s *Server) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	return b, ok
}

// SetListing sets the text sent for LIST and NLST.
func (s *Server) SetListing(text string) {
	s.mu.Lock()
	s.listing = text
	s.mu.Unlock()
}

// Lines returns every command line received so far.
func (s *Server) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Verbs returns the verbs of every command received so far.
func (s *Server) Verbs() []string {
	var verbs []string
	for _, l := range s.Lines() {
		verb, _, _ := strings.Cut(l, " ")
		verbs = append(verbs, verb)
	}
	return verbs
}

// Count returns how many times verb was received.
func (s *Server) Count(verb string) int {
	n := 0
	for _, v := range s.Verbs() {
		if v == verb {
			n++
		}
	}
	return n
}

// Start serves control connections in the background.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				conn.Close()
				return
			}
			s.conns = append(s.conns, conn)
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serve(conn)
			}()
		}
	}()
}

// Close stops the server and waits for its goroutines.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	s.mu.Unlock()

	s.ln.Close()
	s.pasv.Close()
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
}

func (s *Server) serve(raw net.Conn) {
	defer raw.Close()
	c := &Conn{Conn: textproto.NewConn(raw), srv: s}

	s.mu.Lock()
	greeting := s.greeting
	s.mu.Unlock()
	for _, line := range greeting {
		c.Reply(line)
	}

	for {
		line, err := c.ReadLine()
		if err != nil {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		verb = strings.ToUpper(verb)

		entry := verb
		if arg != "" {
			entry += " " + arg
		}
		s.mu.Lock()
		s.lines = append(s.lines, entry)
		h, ok := s.handlers[verb]
		s.mu.Unlock()

		if !ok {
			h = s.defaultHandler(verb)
		}
		h(c, arg)
		if c.quit {
			return
		}
	}
}

func (s *Server) defaultHandler(verb string) Handler {
	switch verb {
	case "USER":
		return Reply("331 User name okay, need password.")
	case "PASS":
		return Reply("230 User logged in, proceed.")
	case "TYPE", "NOOP", "PBSZ", "PROT", "MODE":
		return Reply("200 Command okay.")
	case "PWD":
		return Reply(`257 "/" is the current directory`)
	case "CWD", "CDUP", "RMD", "DELE", "RNTO":
		return Reply("250 Requested file action okay, completed.")
	case "RNFR", "REST":
		return Reply("350 Requested file action pending further information.")
	case "MKD":
		return func(c *Conn, arg string) {
			c.Replyf(`257 "%s" created`, strings.ReplaceAll(arg, `"`, `""`))
		}
	case "QUIT":
		return func(c *Conn, arg string) {
			c.Reply("221 Service closing control connection.")
			c.quit = true
		}
	case "EPSV":
		return func(c *Conn, arg string) {
			c.Replyf("229 Entering Extended Passive Mode (|||%d|)", s.PassivePort())
		}
	case "PASV":
		return func(c *Conn, arg string) {
			p := s.PassivePort()
			c.Replyf("227 Entering Passive Mode (127,0,0,1,%d,%d).", p/256, p%256)
		}
	case "PORT", "EPRT":
		return func(c *Conn, arg string) {
			addr, err := parseActive(verb, arg)
			if err != nil {
				c.Replyf("501 %v", err)
				return
			}
			c.active = addr
			c.Reply("200 Command okay.")
		}
	case "ABOR":
		return func(c *Conn, arg string) {
			c.Reply("426 Connection closed; transfer aborted.")
			c.Reply("226 Closing data connection.")
		}
	case "RETR":
		return func(c *Conn, arg string) {
			s.mu.Lock()
			content, ok := s.files[arg]
			s.mu.Unlock()
			if !ok {
				c.Reply("550 Requested action not taken. File unavailable.")
				return
			}
			c.Send(content)
		}
	case "LIST", "NLST":
		return func(c *Conn, arg string) {
			s.mu.Lock()
			listing := s.listing
			s.mu.Unlock()
			c.Send([]byte(listing))
		}
	case "STOR", "APPE":
		return func(c *Conn, arg string) {
			data, ok := c.Receive()
			if !ok {
				return
			}
			s.mu.Lock()
			if verb == "APPE" {
				data = append(s.files[arg], data...)
			}
			s.files[arg] = data
			s.mu.Unlock()
			c.Reply("226 Closing data connection.")
		}
	}
	return Reply("502 Command not implemented.")
}

// PassivePort returns the port announced by EPSV and PASV.
func (s *Server) PassivePort() int {
	return s.pasv.Addr().(*net.TCPAddr).Port
}

// Reply returns a handler that sends one fixed reply.
func Reply(line string) Handler {
	return func(c *Conn, arg string) {
		c.Reply(line)
	}
}

// Conn is one control connection as seen by a handler.
type Conn struct {
	*textproto.Conn
	srv *Server

	// active is the address given by the last PORT or EPRT
	active string
	quit   bool
}

// Reply sends one reply line.
func (c *Conn) Reply(line string) {
	_ = c.PrintfLine("%s", line)
}

// Replyf sends one formatted reply line.
func (c *Conn) Replyf(format string, args ...any) {
	_ = c.PrintfLine(format, args...)
}

// OpenData returns the data connection for the current transfer: it
// dials the PORT/EPRT address if one was given, else accepts on the
// passive listener.
func (c *Conn) OpenData() (net.Conn, error) {
	if c.active != "" {
		addr := c.active
		c.active = ""
		return net.DialTimeout("tcp", addr, 5*time.Second)
	}
	if l, ok := c.srv.pasv.(*net.TCPListener); ok {
		_ = l.SetDeadline(time.Now().Add(5 * time.Second))
	}
	return c.srv.pasv.Accept()
}

// Send performs a complete download: 150, data, close, 226.
func (c *Conn) Send(data []byte) {
	c.Reply("150 File status okay; about to open data connection.")
	dc, err := c.OpenData()
	if err != nil {
		c.Reply("425 Can't open data connection.")
		return
	}
	_, err = io.Copy(dc, bytes.NewReader(data))
	dc.Close()
	if err != nil {
		c.Reply("426 Connection closed; transfer aborted.")
		return
	}
	c.Reply("226 Closing data connection.")
}

// Receive performs an upload up to the final reply: 150, then read until
// EOF. The caller sends 226. It returns false if the transfer failed; the
// failure reply has been sent.
func (c *Conn) Receive() ([]byte, bool) {
	c.Reply("150 File status okay; about to open data connection.")
	dc, err := c.OpenData()
	if err != nil {
		c.Reply("425 Can't open data connection.")
		return nil, false
	}
	data, err := io.ReadAll(dc)
	dc.Close()
	if err != nil {
		c.Reply("426 Connection closed; transfer aborted.")
		return nil, false
	}
	return data, true
}

// Reset closes conn with a TCP RST instead of a FIN, so the peer sees a
// read error rather than end of file.
func Reset(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	conn.Close()
}

// parseActive decodes a PORT or EPRT argument into "host:port".
func parseActive(verb, arg string) (string, error) {
	if verb == "EPRT" {
		if len(arg) < 2 {
			return "", fmt.Errorf("invalid EPRT argument %q", arg)
		}
		parts := strings.Split(arg[1:len(arg)-1], arg[:1])
		if len(parts) != 3 {
			return "", fmt.Errorf("invalid EPRT argument %q", arg)
		}
		return net.JoinHostPort(parts[1], parts[2]), nil
	}

	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("invalid PORT argument %q", arg)
	}
	var n [6]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return "", fmt.Errorf("invalid PORT argument %q", arg)
		}
		n[i] = v
	}
	host := fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3])
	return net.JoinHostPort(host, strconv.Itoa(n[4]*256+n[5])), nil
}

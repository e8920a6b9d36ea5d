// Command jftp is an interactive FTP client built on ftpsession.
//
// Usage:
//
//	jftp [flags] [target]
//
// The target is a host, host:port, or an ftp://, ftps:// or
// ftp+explicit:// URL. Without a target the shell starts disconnected and
// "open" connects later. When stdin is not a terminal, commands are read
// one per line and the exit status reports whether all of them succeeded.
package main

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/trzsz/go-arg"
	"golang.org/x/term"

	"github.com/gonzalop/ftpsession"
)

type args struct {
	Target   string        `arg:"positional" help:"host, host:port or ftp://, ftps://, ftp+explicit:// URL"`
	Port     int           `arg:"-p,--port,env:FTP_PORT" placeholder:"N" help:"port when the target has none (default: 21, 990 for implicit TLS)"`
	User     string        `arg:"-u,--user,env:FTP_USER" help:"user name (default: anonymous)"`
	Password string        `arg:"--password,env:FTP_PASSWORD" help:"password; prompted for when missing on a terminal"`
	TLS      bool          `arg:"--tls" help:"use explicit TLS (AUTH TLS)"`
	Implicit bool          `arg:"--implicit" help:"use implicit TLS"`
	Insecure bool          `arg:"-k,--insecure" help:"skip TLS certificate verification"`
	Active   bool          `arg:"-A,--active" help:"use active mode (PORT/EPRT)"`
	NoEPSV   bool          `arg:"--no-epsv" help:"never send EPSV"`
	Compress bool          `arg:"-z,--compress" help:"use MODE Z when the server supports it"`
	Limit    int64         `arg:"--limit" placeholder:"BYTES" help:"bandwidth limit in bytes per second"`
	Timeout  time.Duration `arg:"-t,--timeout" default:"30s" help:"timeout for connecting and for each reply"`
	Debug    bool          `arg:"-d,--debug" help:"log commands and replies to stderr"`
}

func (args) Description() string {
	return "jftp: an interactive FTP client\n"
}

func (args) Version() string {
	return "jftp 1.0.0"
}

// target is where "open" connects to.
type target struct {
	host     string
	port     int
	user     string
	password string
	tls      tlsChoice
}

type tlsChoice int

const (
	tlsNone tlsChoice = iota
	tlsExplicit
	tlsImplicit
)

// parseTarget splits raw into host, port and, for URLs, credentials and
// TLS mode. A zero port means the default for the TLS mode.
func parseTarget(raw string) (target, error) {
	if raw == "" {
		return target{}, fmt.Errorf("empty target")
	}
	if !strings.Contains(raw, "://") {
		host, port, err := splitHostPort(raw)
		return target{host: host, port: port}, err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("invalid URL: %w", err)
	}
	t := target{host: u.Hostname()}
	switch strings.ToLower(u.Scheme) {
	case "ftp":
	case "ftps":
		t.tls = tlsImplicit
	case "ftp+explicit":
		t.tls = tlsExplicit
	default:
		return target{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if t.host == "" {
		return target{}, fmt.Errorf("missing host in %q", raw)
	}
	if p := u.Port(); p != "" {
		if t.port, err = parsePort(p); err != nil {
			return target{}, err
		}
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func splitHostPort(s string) (string, int, error) {
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		// no port; a bare IPv6 address is accepted as well
		return strings.Trim(s, "[]"), 0, nil
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host in %q", s)
	}
	port, err := parsePort(p)
	return host, port, err
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

// resolve fills in what the target leaves open from the command line.
func (a *args) resolve(t target) target {
	if t.tls == tlsNone {
		switch {
		case a.Implicit:
			t.tls = tlsImplicit
		case a.TLS:
			t.tls = tlsExplicit
		}
	}
	if t.port == 0 {
		t.port = a.Port
	}
	if t.port == 0 {
		t.port = 21
		if t.tls == tlsImplicit {
			t.port = 990
		}
	}
	if t.user == "" {
		t.user, t.password = a.User, a.Password
	}
	if t.user == "" {
		t.user = "anonymous"
		if t.password == "" {
			t.password = "anonymous@"
		}
	}
	return t
}

// options builds the session options for t.
func (a *args) options(t target, logger *slog.Logger) []ftpsession.Option {
	opts := []ftpsession.Option{
		ftpsession.WithTimeout(a.Timeout),
		ftpsession.WithLogger(logger),
		ftpsession.WithIdleTimeout(time.Minute),
	}
	tlsConfig := &tls.Config{ServerName: t.host, InsecureSkipVerify: a.Insecure}
	switch t.tls {
	case tlsExplicit:
		opts = append(opts, ftpsession.WithExplicitTLS(tlsConfig))
	case tlsImplicit:
		opts = append(opts, ftpsession.WithImplicitTLS(tlsConfig))
	}
	if a.NoEPSV {
		opts = append(opts, ftpsession.WithDisableEPSV())
	}
	if a.Compress {
		opts = append(opts, ftpsession.WithCompression(-1))
	}
	if a.Limit > 0 {
		opts = append(opts, ftpsession.WithBandwidthLimit(a.Limit))
	}
	return opts
}

// readPassword prompts for a password on the terminal. Without one the
// password is left empty.
func readPassword(user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", user)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pass), nil
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// runScript executes one command per line of r and reports whether every
// command succeeded.
func runScript(sh *shell, r io.Reader) bool {
	ok := true
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := sh.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			ok = false
		}
	}
	if err := scanner.Err(); err != nil {
		sh.printError(err)
		ok = false
	}
	return ok
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if a.TLS && a.Implicit {
		p.Fail("--tls and --implicit are mutually exclusive")
	}
	if a.Port < 0 || a.Port > 65535 {
		p.Fail("invalid --port")
	}
	os.Exit(run(&a))
}

func run(a *args) int {
	sh := newShell(a, os.Stdout, os.Stderr, newLogger(os.Stderr, a.Debug))
	sh.askPassword = readPassword
	defer sh.close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if a.Target != "" {
		if err := sh.open(a.Target); err != nil {
			sh.printError(err)
			if !interactive {
				return 1
			}
		}
	}

	if !interactive {
		if !runScript(sh, os.Stdin) {
			return 1
		}
		return 0
	}
	sh.interactive()
	return 0
}

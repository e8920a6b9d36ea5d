package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/c-bata/go-prompt"
	"github.com/fatih/color"
	"github.com/google/shlex"

	"github.com/gonzalop/ftpsession"
)

var (
	errQuit         = errors.New("quit")
	errNotConnected = errors.New("not connected; use open")
)

// shell holds the state of one jftp run. It is driven from a single
// goroutine; only the event watcher runs beside it.
type shell struct {
	args     *args
	out      io.Writer
	errOut   io.Writer
	logger   *slog.Logger
	commands []*command

	// askPassword is consulted when a user has no password.
	askPassword func(user string) (string, error)

	// interrupts delivers SIGINT while a task runs; nil disables it
	interrupts func() (<-chan os.Signal, func())

	worker    *ftpsession.Worker
	watching  sync.WaitGroup
	connected atomic.Bool
	host      string

	// last is the target of the latest open
	last *target

	mode     ftpsession.TransferMode
	dataType ftpsession.DataType

	// names of the last listing, offered as completions
	names []string

	ok   *color.Color
	fail *color.Color
	info *color.Color
}

func newShell(a *args, out, errOut io.Writer, logger *slog.Logger) *shell {
	sh := &shell{
		args:       a,
		out:        out,
		errOut:     errOut,
		logger:     logger,
		commands:   commandTable(),
		interrupts: notifyInterrupt,
		mode:       ftpsession.Passive,
		dataType:   ftpsession.Binary,
		ok:         color.New(color.FgGreen),
		fail:       color.New(color.FgRed),
		info:       color.New(color.FgCyan),
	}
	if a.Active {
		sh.mode = ftpsession.Active
	}
	return sh
}

func notifyInterrupt() (<-chan os.Signal, func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	return sig, func() { signal.Stop(sig) }
}

// execute runs one command line. Errors are printed before they are
// returned; errQuit asks the caller to stop.
func (sh *shell) execute(line string) error {
	words, err := shlex.Split(line)
	if err != nil {
		sh.printError(err)
		return err
	}
	if len(words) == 0 {
		return nil
	}

	cmd := sh.lookup(words[0])
	if cmd == nil {
		err := fmt.Errorf("unknown command %q; try \"help\"", words[0])
		sh.printError(err)
		return err
	}
	argv := words[1:]
	if len(argv) < cmd.min || (cmd.max >= 0 && len(argv) > cmd.max) {
		err := fmt.Errorf("usage: %s", cmd.usage)
		sh.printError(err)
		return err
	}

	err = cmd.run(sh, argv)
	if err != nil && !errors.Is(err, errQuit) {
		sh.printError(err)
	}
	return err
}

func (sh *shell) lookup(name string) *command {
	name = strings.ToLower(name)
	for _, c := range sh.commands {
		if c.name == name {
			return c
		}
		for _, alias := range c.aliases {
			if alias == name {
				return c
			}
		}
	}
	return nil
}

// open replaces the current session with a new one connected and logged
// in to raw. Sessions cannot be reused after a disconnect.
func (sh *shell) open(raw string) error {
	t, err := parseTarget(raw)
	if err != nil {
		return err
	}
	return sh.dial(sh.args.resolve(t))
}

// dial connects to t on a fresh session.
func (sh *shell) dial(t target) error {
	var err error
	if t.password == "" && sh.askPassword != nil {
		if t.password, err = sh.askPassword(t.user); err != nil {
			return err
		}
	}

	sh.closeSession()

	s, err := ftpsession.New(sh.args.options(t, sh.logger)...)
	if err != nil {
		return err
	}
	s.SetTransferMode(sh.mode)
	s.SetDataType(sh.dataType)

	w := ftpsession.NewWorker(s, 4)
	sh.worker = w
	sh.host = net.JoinHostPort(t.host, strconv.Itoa(t.port))
	sh.last = &t
	sh.watching.Add(1)
	go sh.watch(w)

	if _, err := sh.run("connect", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return nil, s.Connect(ctx, t.host, t.port)
	}); err != nil {
		return err
	}
	sh.info.Fprintf(sh.out, "Connected to %s\n", sh.host)
	return sh.login(t.user, t.password)
}

func (sh *shell) login(user, pass string) error {
	if _, err := sh.run("login", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return nil, s.Login(ctx, user, pass)
	}); err != nil {
		return err
	}
	sh.ok.Fprintf(sh.out, "Logged in as %s\n", user)
	return nil
}

// watch follows the worker's events until Close.
func (sh *shell) watch(w *ftpsession.Worker) {
	defer sh.watching.Done()
	for ev := range w.Events() {
		was := sh.connected.Swap(ev.Connected)
		sh.logger.Debug("operation finished", "session", ev.SessionID, "op", ev.Op, "error", ev.Err)
		if was && !ev.Connected && ev.Op != "disconnect" {
			sh.logger.Warn("connection closed", "session", ev.SessionID, "op", ev.Op)
		}
	}
}

// run submits fn to the worker and waits for it. SIGINT cancels it.
func (sh *shell) run(op string, fn func(ctx context.Context, s *ftpsession.Session) (any, error)) (any, error) {
	if sh.worker == nil {
		return nil, errNotConnected
	}
	task, err := sh.worker.Submit(op, fn)
	if err != nil {
		return nil, err
	}

	var sig <-chan os.Signal
	if sh.interrupts != nil {
		var stop func()
		sig, stop = sh.interrupts()
		defer stop()
	}
	select {
	case <-task.Done():
	case <-sig:
		sh.info.Fprintln(sh.errOut, "Interrupted")
		sh.worker.Cancel()
	}
	return task.Wait()
}

// session returns the current session if it is logged in.
func (sh *shell) session() (*ftpsession.Session, error) {
	if sh.worker == nil || !sh.worker.Session().IsConnected() {
		return nil, errNotConnected
	}
	return sh.worker.Session(), nil
}

// closeSession disconnects and stops the current worker, if any.
func (sh *shell) closeSession() {
	if sh.worker == nil {
		return
	}
	if task, err := sh.worker.Submit("disconnect", func(ctx context.Context, s *ftpsession.Session) (any, error) {
		return nil, s.Disconnect()
	}); err == nil {
		if _, err := task.Wait(); err != nil {
			sh.logger.Debug("disconnect", "error", err)
		}
	}
	sh.worker.Close()
	sh.watching.Wait()
	sh.worker = nil
	sh.host = ""
	sh.names = nil
	sh.connected.Store(false)
}

func (sh *shell) close() {
	sh.closeSession()
}

func (sh *shell) printError(err error) {
	msg := err.Error()
	var fe *ftpsession.Error
	if errors.As(err, &fe) && !fe.Recoverable() && sh.worker != nil && !sh.worker.Session().IsConnected() {
		msg += " (disconnected; use open to reconnect)"
	}
	sh.fail.Fprintln(sh.errOut, msg)
}

func (sh *shell) prefix() (string, bool) {
	if sh.worker == nil || !sh.worker.Session().IsConnected() {
		return "jftp> ", true
	}
	s := sh.worker.Session()
	return fmt.Sprintf("%s@%s:%s> ", s.User(), sh.host, s.WorkingDir()), true
}

// interactive runs the prompt until quit or EOF.
func (sh *shell) interactive() {
	p := prompt.New(
		func(line string) { _ = sh.execute(line) },
		sh.complete,
		prompt.OptionTitle("jftp"),
		prompt.OptionLivePrefix(sh.prefix),
		prompt.OptionPrefixTextColor(prompt.Green),
		prompt.OptionPreviewSuggestionTextColor(prompt.Blue),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionCompletionWordSeparator(" "),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			if !breakline {
				return false
			}
			c := sh.lookup(strings.TrimSpace(in))
			return c != nil && c.name == "quit"
		}),
	)
	p.Run()
}

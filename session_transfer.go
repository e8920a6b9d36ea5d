package ftpsession

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
)

// ErrAborted is the cause of the transfer error returned after Abort.
var ErrAborted = errors.New("transfer aborted")

// List returns the entries of a remote directory (LIST). An empty path
// lists the working directory. Listings are always transferred as ASCII.
//
// Example:
//
//	entries, err := s.List(ctx, "/pub")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range entries {
//	    fmt.Printf("%s: %d bytes (%s)\n", e.Name, e.Size, e.Type)
//	}
func (s *Session) List(ctx context.Context, path string) ([]*Entry, error) {
	var buf bytes.Buffer
	if _, err := s.runTransfer(ctx, NewCommand("LIST", path), 0, transfer{dir: download, sink: &buf}, ASCII); err != nil {
		return nil, err
	}

	var entries []*Entry
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		if entry := parseListLine(scanner.Text(), s.parsers, s.logger); entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// NameList returns the names in a remote directory (NLST), one per line
// of the server's answer.
func (s *Session) NameList(ctx context.Context, path string) ([]string, error) {
	var buf bytes.Buffer
	if _, err := s.runTransfer(ctx, NewCommand("NLST", path), 0, transfer{dir: download, sink: &buf}, ASCII); err != nil {
		return nil, err
	}

	var names []string
	for line := range strings.Lines(buf.String()) {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Retrieve downloads a remote file into w (RETR) and returns the number
// of bytes written.
//
// If the data connection fails mid-stream, the transfer is aborted with
// ABOR and a transfer error is returned; the session stays usable.
func (s *Session) Retrieve(ctx context.Context, remote string, w io.Writer) (int64, error) {
	return s.RetrieveFrom(ctx, remote, w, 0)
}

// RetrieveFrom is Retrieve starting at offset (REST). It is used to
// resume interrupted downloads.
func (s *Session) RetrieveFrom(ctx context.Context, remote string, w io.Writer, offset int64) (int64, error) {
	return s.runTransfer(ctx, NewCommand("RETR", remote), offset, transfer{dir: download, sink: w}, s.DataType())
}

// Store uploads r to a remote file (STOR) and returns the number of bytes
// read from r.
//
// Example:
//
//	f, _ := os.Open("local.txt")
//	defer f.Close()
//	n, err := s.Store(ctx, "remote.txt", f)
func (s *Session) Store(ctx context.Context, remote string, r io.Reader) (int64, error) {
	return s.runTransfer(ctx, NewCommand("STOR", remote), 0, transfer{dir: upload, source: r}, s.DataType())
}

// Append uploads r to the end of a remote file (APPE).
func (s *Session) Append(ctx context.Context, remote string, r io.Reader) (int64, error) {
	return s.runTransfer(ctx, NewCommand("APPE", remote), 0, transfer{dir: upload, source: r}, s.DataType())
}

// Abort cancels the transfer in progress by closing its data connection.
// The transferring call then sends ABOR, returns a transfer error and
// leaves the session Authenticated. Cancelling the transfer's context
// has the same effect.
func (s *Session) Abort() error {
	s.mu.Lock()
	dc := s.data
	if dc != nil {
		s.aborted = true
	}
	s.mu.Unlock()

	if dc == nil {
		return wrapError(KindState, "ABOR", errors.New("no transfer in progress"))
	}
	s.logger.Debug("aborting transfer on request")
	_ = dc.Close()
	return nil
}

// runTransfer is the common path of every data-connection operation.
func (s *Session) runTransfer(ctx context.Context, cmd Command, offset int64, t transfer, dtype DataType) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapError(KindTransfer, cmd.Verb, err)
	}
	if err := s.begin(cmd.Verb); err != nil {
		return 0, err
	}
	n, err := s.transfer(ctx, cmd, offset, t, dtype)
	s.end(err)
	if err == nil {
		s.logger.Debug("transfer complete", "cmd", cmd.Verb, "direction", t.dir.String(), "bytes", n)
	}
	return n, err
}

func (s *Session) transfer(ctx context.Context, cmd Command, offset int64, t transfer, dtype DataType) (int64, error) {
	dc, final, err := s.openData(ctx, cmd, offset, dtype)
	if err != nil {
		return 0, err
	}
	t.ascii = dtype == ASCII
	t.compress = s.modeZ

	s.mu.Lock()
	s.data = dc
	s.aborted = false
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.data = nil
		s.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { dc.Close() })
	if err := dc.establish(ctx); err != nil {
		stop()
		dc.Close()
		if final != nil {
			return 0, wrapError(KindNegotiation, cmd.Verb, err)
		}
		if rerr := s.recover(cmd.Verb); rerr != nil {
			return 0, rerr
		}
		return 0, wrapError(KindNegotiation, cmd.Verb, s.abortCause(ctx, err))
	}

	n, err := s.exec.run(dc, t)
	stop()
	if err != nil {
		if final == nil {
			if rerr := s.recover(cmd.Verb); rerr != nil {
				return n, rerr
			}
		}
		return n, wrapError(KindTransfer, cmd.Verb, s.abortCause(ctx, err))
	}

	if final == nil {
		if final, err = s.exchangeFinal(); err != nil {
			return n, withCommand(cmd.Verb, err)
		}
	}
	if final.Class() != ClassSuccess {
		return n, replyError(KindTransfer, cmd.Verb, final)
	}
	return n, nil
}

// openData prepares TYPE and MODE, negotiates the data connection and
// sends cmd. It returns the connection once the server has accepted the
// command. final is set when the server skipped the 1xx reply and sent
// the completion reply straight away.
func (s *Session) openData(ctx context.Context, cmd Command, offset int64, dtype DataType) (dataConn, *Reply, error) {
	if err := s.ensureType(dtype); err != nil {
		return nil, nil, err
	}
	if err := s.ensureMode(); err != nil {
		return nil, nil, err
	}
	if err := cancelled(ctx, cmd.Verb); err != nil {
		return nil, nil, err
	}

	dc, err := s.neg.negotiate(ctx, s.TransferMode())
	if err != nil {
		if KindOf(err) != KindIO {
			if cerr := cancelled(ctx, cmd.Verb); cerr != nil {
				return nil, nil, cerr
			}
		}
		return nil, nil, withContext(ctx, err)
	}
	if err := cancelled(ctx, cmd.Verb); err != nil {
		dc.Close()
		return nil, nil, err
	}

	if offset > 0 {
		rest := NewCommand("REST", strconv.FormatInt(offset, 10), 350)
		reply, err := s.exchange(rest)
		if err != nil {
			dc.Close()
			return nil, nil, err
		}
		if reply.Code != 350 {
			dc.Close()
			return nil, nil, replyError(KindCommand, rest.Verb, reply)
		}
		if err := cancelled(ctx, cmd.Verb); err != nil {
			dc.Close()
			return nil, nil, err
		}
	}

	reply, err := s.ctrl.Exchange(cmd)
	if err != nil {
		dc.Close()
		return nil, nil, err
	}
	switch reply.Class() {
	case ClassPreliminary:
		return dc, nil, nil
	case ClassSuccess:
		s.logger.Warn("transfer completed without preliminary reply", "cmd", cmd.Verb, "code", reply.Code)
		return dc, reply, nil
	}
	dc.Close()
	return nil, nil, replyError(KindCommand, cmd.Verb, reply)
}

// exchangeFinal waits for the completion reply of a transfer command.
func (s *Session) exchangeFinal() (*Reply, error) {
	for {
		reply, err := s.ctrl.ReceiveReply()
		if err != nil || reply.Class() != ClassPreliminary {
			return reply, err
		}
	}
}

// recover sends ABOR after a failed transfer and drains the replies owed
// for both the transfer command and ABOR. Servers differ in how many they
// send, so once one reply has arrived the rest are waited for only
// briefly; if that wait runs out the channel is resynchronised with NOOP.
// It returns an error only if the control connection cannot be trusted
// any more, and that error names verb.
func (s *Session) recover(verb string) error {
	return withCommand(verb, s.abort(verb))
}

func (s *Session) abort(verb string) error {
	s.logger.Debug("sending ABOR", "cmd", verb)
	if err := s.ctrl.Send(NewCommand("ABOR", "", 226, 225)); err != nil {
		return err
	}

	timeout := s.timeout
	for s.ctrl.Outstanding() > 0 {
		reply, err := s.ctrl.receive(timeout)
		switch {
		case err == nil:
			s.logger.Debug("abort reply", "code", reply.Code, "message", reply.Message)
			if reply.Code == 421 {
				return replyError(KindIO, "ABOR", reply)
			}
		case KindOf(err) == KindParse:
		case isTimeout(err) && timeout == s.abortDrain:
			s.logger.Debug("no further abort reply, resynchronising", "outstanding", s.ctrl.Outstanding())
			s.ctrl.resetOutstanding()
			return s.resync()
		default:
			return err
		}
		timeout = s.abortDrain
	}
	return nil
}

// maxStrayReplies bounds how many late replies resync discards.
const maxStrayReplies = 4

// resync sends NOOP and discards replies until its 200 arrives. A reply
// still owed for the transfer or ABOR is sent before it, so once the 200
// is read the next reply belongs to the next command.
func (s *Session) resync() error {
	if err := s.ctrl.Send(NewCommand("NOOP", "", 200)); err != nil {
		return err
	}
	for range maxStrayReplies + 1 {
		reply, err := s.ctrl.receive(s.timeout)
		switch {
		case err == nil && reply.Code == 200:
			s.ctrl.resetOutstanding()
			return nil
		case err == nil:
			s.logger.Debug("discarding late reply", "code", reply.Code, "message", reply.Message)
		case KindOf(err) == KindParse:
		default:
			return asKind(KindIO, err)
		}
	}
	return wrapError(KindIO, "NOOP", errors.New("control channel out of step after ABOR"))
}

// withCommand returns err with its Command set to verb.
func withCommand(verb string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return wrapError(KindIO, verb, err)
	}
	cp := *e
	cp.Command = verb
	return &cp
}

// cancelled reports a context cancelled while a transfer is being set up.
// The transfer command has not been sent then, so the session stays
// usable.
func cancelled(ctx context.Context, verb string) error {
	if err := ctx.Err(); err != nil {
		return wrapError(KindTransfer, verb, err)
	}
	return nil
}

// abortCause picks the reason reported for an aborted transfer.
func (s *Session) abortCause(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	s.mu.Lock()
	aborted := s.aborted
	s.mu.Unlock()
	if aborted {
		return ErrAborted
	}
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ensureType sends TYPE when the requested type differs from the last one
// the server accepted.
func (s *Session) ensureType(t DataType) error {
	code := t.typeCode()
	if s.currentType == code {
		return nil
	}
	cmd := NewCommand("TYPE", code, 200)
	reply, err := s.exchange(cmd)
	if err != nil {
		return err
	}
	if err := s.check(KindCommand, cmd, reply); err != nil {
		return err
	}
	s.currentType = code
	return nil
}

// ensureMode asks for MODE Z once when compression is enabled. A refusal
// leaves the session in stream mode. After a raw MODE command the wanted
// mode is sent again.
func (s *Session) ensureMode() error {
	if s.modeUnknown {
		s.modeZ = false
		if !s.compress || s.modeZRejected {
			cmd := NewCommand("MODE", "S", 200)
			reply, err := s.exchange(cmd)
			if err == nil {
				err = s.check(KindCommand, cmd, reply)
			}
			if err != nil {
				return err
			}
		}
		s.modeUnknown = false
	}
	if !s.compress || s.modeZ || s.modeZRejected {
		return nil
	}
	reply, err := s.exchange(NewCommand("MODE", "Z", 200))
	if err != nil {
		if KindOf(err) == KindIO {
			return err
		}
		s.modeZRejected = true
		return nil
	}
	if reply.Class() != ClassSuccess {
		s.logger.Info("MODE Z refused, using stream mode", "code", reply.Code)
		s.modeZRejected = true
		return nil
	}
	s.modeZ = true
	return nil
}

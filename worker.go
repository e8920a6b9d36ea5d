package ftpsession

import (
	"context"
	"errors"
	"io"
	"sync"
)

// Event reports the outcome of one operation run by a Worker.
type Event struct {
	// SessionID is the ID of the session the operation ran on.
	SessionID string

	// Op names the operation, e.g. "mkdir" or "retrieve".
	Op string

	// Value is the operation's result, if it has one: the created path
	// for "mkdir", []*Entry for "list", the byte count for transfers.
	Value any

	// Err is nil on success and an *Error otherwise.
	Err error

	// Connected is the session's IsConnected after the operation.
	Connected bool
}

// Task is an operation submitted to a Worker.
type Task struct {
	Op string

	fn    func(ctx context.Context, s *Session) (any, error)
	done  chan struct{}
	value any
	err   error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task has finished and returns its result.
func (t *Task) Wait() (any, error) {
	<-t.done
	return t.value, t.err
}

// ErrWorkerClosed is returned by Submit after Close.
var ErrWorkerClosed = errors.New("worker closed")

// Worker runs a session's operations one at a time on its own goroutine,
// so callers such as user interfaces never block on network I/O. Results
// are delivered both on each Task and as Events.
//
// The Events channel must be drained; the worker blocks until each event
// has been received.
type Worker struct {
	session *Session
	tasks   chan *Task
	events  chan Event
	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	// submitMu guards closed and the send on tasks
	submitMu sync.RWMutex
	closed   bool

	// mu guards cancel, the running task's cancel func
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorker starts a worker for s. Up to queue tasks wait before Submit
// blocks.
func NewWorker(s *Session, queue int) *Worker {
	ctx, stop := context.WithCancel(context.Background())
	w := &Worker{
		session: s,
		tasks:   make(chan *Task, queue),
		events:  make(chan Event, queue),
		ctx:     ctx,
		stop:    stop,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Session returns the session the worker drives.
func (w *Worker) Session() *Session {
	return w.session
}

// Events returns the channel on which every finished task is reported.
// It is closed by Close.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Submit queues fn. The returned task completes after fn has run.
func (w *Worker) Submit(op string, fn func(ctx context.Context, s *Session) (any, error)) (*Task, error) {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()
	if w.closed {
		return nil, wrapError(KindState, op, ErrWorkerClosed)
	}
	t := &Task{Op: op, fn: fn, done: make(chan struct{})}
	w.tasks <- t
	return t, nil
}

func (w *Worker) loop() {
	defer w.wg.Done()
	defer close(w.events)

	for t := range w.tasks {
		ctx, cancel := context.WithCancel(w.ctx)
		w.mu.Lock()
		w.cancel = cancel
		w.mu.Unlock()

		t.value, t.err = t.fn(ctx, w.session)

		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
		cancel()

		close(t.done)
		w.events <- Event{
			SessionID: w.session.ID(),
			Op:        t.Op,
			Value:     t.value,
			Err:       t.err,
			Connected: w.session.IsConnected(),
		}
	}
}

// Cancel cancels the running task's context. A transfer is aborted and
// the session stays usable; a plain command interrupts the control
// connection.
func (w *Worker) Cancel() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops accepting tasks, lets the queued ones finish and closes
// the Events channel.
func (w *Worker) Close() {
	w.submitMu.Lock()
	if w.closed {
		w.submitMu.Unlock()
		return
	}
	w.closed = true
	close(w.tasks)
	w.submitMu.Unlock()
	w.wg.Wait()
	w.stop()
}

// The helpers below are fire-and-forget: outcomes arrive only as Events,
// never as returned errors.

func (w *Worker) post(op string, fn func(ctx context.Context, s *Session) (any, error)) {
	if _, err := w.Submit(op, fn); err != nil {
		w.session.logger.Warn("task dropped", "op", op, "error", err)
	}
}

// Connect queues Session.Connect.
func (w *Worker) Connect(host string, port int) {
	w.post("connect", func(ctx context.Context, s *Session) (any, error) {
		return nil, s.Connect(ctx, host, port)
	})
}

// Login queues Session.Login.
func (w *Worker) Login(user, pass string) {
	w.post("login", func(ctx context.Context, s *Session) (any, error) {
		return nil, s.Login(ctx, user, pass)
	})
}

// CreateRemoteDirectory queues Session.MakeDir. The event value is the
// created path.
func (w *Worker) CreateRemoteDirectory(path string) {
	w.post("mkdir", func(ctx context.Context, s *Session) (any, error) {
		return s.MakeDir(ctx, path)
	})
}

// ChangeDir queues Session.ChangeDir. The event value is the new
// working directory.
func (w *Worker) ChangeDir(path string) {
	w.post("cd", func(ctx context.Context, s *Session) (any, error) {
		if err := s.ChangeDir(ctx, path); err != nil {
			return nil, err
		}
		return s.WorkingDir(), nil
	})
}

// List queues Session.List. The event value is []*Entry.
func (w *Worker) List(path string) {
	w.post("list", func(ctx context.Context, s *Session) (any, error) {
		return s.List(ctx, path)
	})
}

// Retrieve queues Session.Retrieve. The event value is the byte count.
func (w *Worker) Retrieve(remote string, dst io.Writer) {
	w.post("retrieve", func(ctx context.Context, s *Session) (any, error) {
		return s.Retrieve(ctx, remote, dst)
	})
}

// Store queues Session.Store. The event value is the byte count.
func (w *Worker) Store(remote string, src io.Reader) {
	w.post("store", func(ctx context.Context, s *Session) (any, error) {
		return s.Store(ctx, remote, src)
	})
}

// Disconnect queues Session.Disconnect.
func (w *Worker) Disconnect() {
	w.post("disconnect", func(ctx context.Context, s *Session) (any, error) {
		return nil, s.Disconnect()
	})
}

package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daemon13/rsyslog/internal/logging"
)

// Command is the command-state of a worker slot. States only ever advance;
// the single "back to start" transition, TERMINATED -> STOPPED, is performed
// by the harvester after a successful join.
type Command int

const (
	// CmdStopped marks a free slot with no goroutine attached.
	CmdStopped Command = iota
	// CmdRunCreated means the goroutine has been launched but has not yet
	// entered the worker shell.
	CmdRunCreated
	// CmdRunInit means the goroutine entered the shell and holds the pool
	// mutex for its late initialization.
	CmdRunInit
	// CmdRunning means the worker executes the work loop.
	CmdRunning
	// CmdTerminating means the worker has been asked to stop or is winding
	// itself down.
	CmdTerminating
	// CmdTerminated means the goroutine is about to exit or has exited and
	// the slot needs a join.
	CmdTerminated
)

func (c Command) String() string {
	switch c {
	case CmdStopped:
		return "STOPPED"
	case CmdRunCreated:
		return "RUN_CREATED"
	case CmdRunInit:
		return "RUN_INIT"
	case CmdRunning:
		return "RUNNING"
	case CmdTerminating:
		return "TERMINATING"
	case CmdTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Worker is a single slot of the pool's worker table. It may host one
// goroutine at a time and is recycled through the harvester once that
// goroutine terminates.
type Worker struct {
	mu   sync.Mutex // serializes cmd transitions of this slot
	cmd  Command
	pool *Pool
	tag  string

	// scratch is the opaque payload the user stashes during DoWork, e.g.
	// the dequeued message. It is handed to OnWorkerCancel on cancellation.
	scratch any

	// started is signalled once per goroutine lifetime after startup init.
	started     *sync.Cond
	startedOnce bool

	// done is closed when the slot's goroutine has fully exited; joining
	// the slot means receiving on it. Renewed on every launch.
	done chan struct{}

	// cancel is the cooperative cancellation token for the current launch.
	// It is closed by CancelAll and observed at every suspension point of
	// the work loop; DoWork implementations select on it for long
	// operations.
	cancel    chan struct{}
	cancelled bool
}

func newWorker(pool *Pool, tag string) *Worker {
	w := &Worker{pool: pool, tag: tag}
	w.started = sync.NewCond(&w.mu)
	return w
}

// Tag returns the slot's diagnostic tag, "<poolTag>/w<i>".
func (w *Worker) Tag() string { return w.tag }

// reset prepares a STOPPED slot for a new launch. Caller holds the pool
// mutex; the slot mutex is taken here.
func (w *Worker) reset() {
	w.mu.Lock()
	w.done = make(chan struct{})
	w.cancel = make(chan struct{})
	w.cancelled = false
	w.startedOnce = false
	w.scratch = nil
	w.mu.Unlock()
}

// setState requests a command-state transition. With activeOnly set the
// change is refused when the slot is STOPPED, so that callers can address
// all live workers without accidentally booting a dead slot. States never
// regress: a request for a lower or equal state is ignored, except for the
// harvester's TERMINATED -> STOPPED reset.
func (w *Worker) setState(cmd Command, activeOnly bool) {
	w.mu.Lock()
	w.setStateLocked(cmd, activeOnly)
	w.mu.Unlock()
}

func (w *Worker) setStateLocked(cmd Command, activeOnly bool) {
	if activeOnly && w.cmd == CmdStopped {
		return
	}
	if cmd == CmdStopped {
		if w.cmd != CmdTerminated {
			return
		}
	} else if cmd <= w.cmd {
		return
	}
	logging.Debug(fmt.Sprintf("%s: state %s -> %s", w.tag, w.cmd, cmd))
	w.cmd = cmd
	if cmd == CmdTerminated {
		w.pool.stateChanged.Store(true)
	}
}

// getState returns the slot's current command-state.
func (w *Worker) getState() Command {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	return cmd
}

// SetScratch stashes the in-flight payload for the current unit of work.
// Clear it (set nil) once the unit has been fully handed off, so a
// cancellation after that point does not requeue it a second time.
func (w *Worker) SetScratch(v any) {
	w.mu.Lock()
	w.scratch = v
	w.mu.Unlock()
}

// Scratch returns the currently stashed payload.
func (w *Worker) Scratch() any {
	w.mu.Lock()
	v := w.scratch
	w.mu.Unlock()
	return v
}

func (w *Worker) takeScratch() any {
	w.mu.Lock()
	v := w.scratch
	w.scratch = nil
	w.mu.Unlock()
	return v
}

// Cancelled exposes the cancellation token of the current launch. DoWork
// implementations select on it around blocking operations.
func (w *Worker) Cancelled() <-chan struct{} {
	w.mu.Lock()
	ch := w.cancel
	w.mu.Unlock()
	return ch
}

func (w *Worker) isCancelled() bool {
	w.mu.Lock()
	c := w.cancelled
	w.mu.Unlock()
	return c
}

// requestCancel closes the cancellation token of a live slot. Returns
// whether a cancellation was actually issued.
func (w *Worker) requestCancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == CmdStopped || w.cmd == CmdTerminated || w.cancelled {
		return false
	}
	w.cancelled = true
	close(w.cancel)
	return true
}

// WaitStarted blocks until the slot's goroutine has run its startup hook,
// or until the timeout expires. Kept for producers that depend on
// "first worker is up" ordering.
func (w *Worker) WaitStarted(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	w.mu.Lock()
	defer w.mu.Unlock()
	for !w.startedOnce {
		if WaitDeadline(w.started, deadline) && !w.startedOnce {
			return false
		}
	}
	return true
}

// startup runs the once-per-lifetime startup hook and signals the started
// condition. Runs outside the pool mutex.
func (w *Worker) startup() {
	w.mu.Lock()
	if w.startedOnce {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.pool.cb.OnWorkerStartup(w.pool.user)
	w.mu.Lock()
	w.startedOnce = true
	w.started.Broadcast()
	w.mu.Unlock()
}

// workerLoop is the inner worker: it drives the user's callbacks until a
// stop condition, idle timeout, or cancellation ends it. It runs with no
// pool lock held; the user mutex is held exactly as the vtable contract
// requires. Reports whether the loop ended through cancellation.
func (w *Worker) workerLoop() (cancelled bool) {
	p := w.pool

	w.startup()

	for {
		if w.isCancelled() {
			return true
		}
		p.userMu.Lock()
		if err := p.chkStopWorker(true, true); errors.Is(err, ErrTerminateNow) {
			p.userMu.Unlock()
			break
		}
		if w.isCancelled() {
			p.userMu.Unlock()
			return true
		}
		if p.cb.IsIdle(p.user, true) {
			err := p.cb.OnIdle(p.user, true)
			p.userMu.Unlock()
			if errors.Is(err, ErrTimedOut) {
				// No new work before the idle deadline: self-terminate to
				// shrink the fleet.
				logging.Debug(fmt.Sprintf("%s: idle timeout, winding down", w.tag))
				break
			}
			continue
		}
		err := p.cb.DoWork(p.user, w, true)
		p.userMu.Unlock()
		if errors.Is(err, ErrTerminateNow) {
			break
		}
		// Any other DoWork error is the producer's responsibility.
	}

	return false
}

// harvest joins the slot if its goroutine has terminated and resets it to
// STOPPED. Safe to call repeatedly; a double join cannot occur because the
// first harvest moves the slot out of TERMINATED. Must not be called with
// the pool mutex held.
func (w *Worker) harvest() {
	w.mu.Lock()
	if w.cmd != CmdTerminated {
		w.mu.Unlock()
		return
	}
	done := w.done
	w.mu.Unlock()

	<-done // join: the goroutine closes this after its final bookkeeping

	w.mu.Lock()
	w.setStateLocked(CmdStopped, false)
	w.mu.Unlock()
	logging.Debug(fmt.Sprintf("%s: joined and recycled", w.tag))
}

// Package worker implements the daemon's worker pool: a bounded table of
// worker slots driven against a pluggable producer (the "user", typically a
// message queue). The pool spawns workers on demand, parks them on the
// producer's busy condition, winds them down on inactivity, and harvests
// terminated slots so they can be reused.
package worker

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daemon13/rsyslog/internal/logging"
)

// State is the pool's lifecycle state.
type State int

const (
	// StateRunning is normal operation.
	StateRunning State = iota
	// StateShutdown asks workers to drain outstanding work and then stop.
	StateShutdown
	// StateShutdownImmediate asks workers to stop regardless of pending
	// work. Once entered, the pool never leaves this state.
	StateShutdownImmediate
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShutdown:
		return "SHUTDOWN"
	case StateShutdownImmediate:
		return "SHUTDOWN_IMMEDIATE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WaitIndefinitely can be passed as the ShutdownAll timeout to wait without
// a deadline.
const WaitIndefinitely time.Duration = -1

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultIdleTimeout     = 2 * time.Second
)

// Pool is the worker pool. Configure it with the setters, then call
// FinalizeConstruction; after that only the runtime surface may be used.
//
// Lock hierarchy: the pool mutex is the innermost lock. It may be taken
// while the user mutex is held (the stop check does), but the user mutex
// must never be acquired while holding the pool mutex. Slot mutexes may be
// taken under the pool mutex, not vice versa.
type Pool struct {
	mu       sync.Mutex // serializes pool fields and worker-count changes
	termCond *sync.Cond // on mu; signalled when a worker decrements curRunning

	workers    []*Worker
	maxWorkers int
	curRunning int
	state      State

	// inactivityGuard forces the sole remaining worker to loop once more
	// after a spawn, so the fleet cannot die out while the producer is
	// still publishing. Consumed (cleared) when the extra loop is granted.
	inactivityGuard bool

	// stateChanged is a hint that some slot reached TERMINATED and the
	// harvester has work to do.
	stateChanged atomic.Bool

	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	// user is the producer object; userMu and busy are owned by it. The
	// pool only holds non-owning handles whose lifetime the user
	// guarantees to exceed the pool's.
	user   any
	userMu *sync.Mutex
	busy   *sync.Cond

	cb        Callbacks
	finalized bool
	tag       string
}

// NewPool constructs an unfinalized pool with no-op callbacks. The tag is
// used in diagnostics only.
func NewPool(tag string) *Pool {
	p := &Pool{
		tag:             tag,
		maxWorkers:      runtime.NumCPU(),
		idleTimeout:     defaultIdleTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		cb:              Callbacks{}.withDefaults(),
	}
	p.termCond = sync.NewCond(&p.mu)
	return p
}

// Tag returns the pool's diagnostic tag.
func (p *Pool) Tag() string {
	if p.tag == "" {
		return "wtp"
	}
	return p.tag
}

// SetMaxWorkers bounds the number of concurrently running workers. Must be
// called before FinalizeConstruction.
func (p *Pool) SetMaxWorkers(n int) error {
	if p.finalized || n <= 0 {
		return ErrParam
	}
	p.maxWorkers = n
	return nil
}

// SetIdleTimeout sets how long an idle worker waits for new work before it
// self-terminates.
func (p *Pool) SetIdleTimeout(d time.Duration) error {
	if p.finalized || d <= 0 {
		return ErrParam
	}
	p.idleTimeout = d
	return nil
}

// SetShutdownTimeout sets the default deadline ShutdownAll applies when the
// caller passes a zero timeout.
func (p *Pool) SetShutdownTimeout(d time.Duration) error {
	if p.finalized || d <= 0 {
		return ErrParam
	}
	p.shutdownTimeout = d
	return nil
}

// SetUser binds the producer object handed back to every callback.
func (p *Pool) SetUser(user any) error {
	if p.finalized {
		return ErrParam
	}
	p.user = user
	return nil
}

// SetUserMutex hands the pool a non-owning handle to the producer's mutex.
func (p *Pool) SetUserMutex(mu *sync.Mutex) error {
	if p.finalized || mu == nil {
		return ErrParam
	}
	p.userMu = mu
	return nil
}

// SetBusyCond hands the pool a non-owning handle to the producer's busy
// condition. The pool signals it but never destroys it.
func (p *Pool) SetBusyCond(c *sync.Cond) error {
	if p.finalized || c == nil {
		return ErrParam
	}
	p.busy = c
	return nil
}

// SetCallbacks installs the user vtable; nil entries keep their no-op
// defaults.
func (p *Pool) SetCallbacks(cb Callbacks) error {
	if p.finalized {
		return ErrParam
	}
	p.cb = cb.withDefaults()
	return nil
}

// FinalizeConstruction allocates the worker slot table and freezes the
// configuration. A pool without a bound user mutex/busy condition gets
// private ones so it remains usable standalone.
func (p *Pool) FinalizeConstruction() error {
	if p.finalized {
		return ErrParam
	}
	if p.userMu == nil {
		p.userMu = &sync.Mutex{}
	}
	if p.busy == nil {
		p.busy = sync.NewCond(p.userMu)
	}
	p.workers = make([]*Worker, p.maxWorkers)
	for i := range p.workers {
		p.workers[i] = newWorker(p, fmt.Sprintf("%s/w%d", p.Tag(), i))
	}
	p.finalized = true
	logging.Debug(fmt.Sprintf("%s: finalized construction, %d worker slots", p.Tag(), p.maxWorkers))
	return nil
}

// MaxWorkers returns the capacity of the slot table.
func (p *Pool) MaxWorkers() int { return p.maxWorkers }

// IdleTimeout returns the configured worker idle timeout. Producers use it
// as the deadline for their busy-condition wait in OnIdle.
func (p *Pool) IdleTimeout() time.Duration { return p.idleTimeout }

// CurrentWorkers returns the number of workers currently alive.
func (p *Pool) CurrentWorkers() int {
	p.mu.Lock()
	n := p.curRunning
	p.mu.Unlock()
	return n
}

// State returns the pool's lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()
	return s
}

// SetState moves the pool to a new lifecycle state. SHUTDOWN_IMMEDIATE is
// terminal and cannot be left.
func (p *Pool) SetState(s State) {
	p.mu.Lock()
	if p.state != StateShutdownImmediate {
		p.state = s
	}
	p.mu.Unlock()
}

// Worker returns slot i, for producers that need the started-condition or
// the cancellation token of a specific slot.
func (p *Pool) Worker(i int) *Worker {
	if i < 0 || i >= len(p.workers) {
		return nil
	}
	return p.workers[i]
}

// WakeupWorker wakes at least one worker parked on the busy condition.
// The signal is issued under the user mutex; callers must not hold the
// pool mutex.
func (p *Pool) WakeupWorker() {
	p.userMu.Lock()
	p.busy.Signal()
	p.userMu.Unlock()
}

// WakeupAllWorkers unparks every worker waiting on the busy condition.
func (p *Pool) WakeupAllWorkers() {
	p.userMu.Lock()
	p.busy.Broadcast()
	p.userMu.Unlock()
}

// AdviseMaxWorkers hints that up to n workers should be running. Missing
// workers are started up to the slot-table capacity; if none need to be
// started, one parked worker is signalled instead, so the caller may assume
// at least one worker re-checks for work after this returns. Never blocks
// on the user.
func (p *Pool) AdviseMaxWorkers(n int) error {
	if n == 0 {
		return nil
	}
	if !p.finalized || n < 0 {
		return ErrParam
	}

	// Reclaim stale TERMINATED slots before counting.
	p.ProcessThreadChanges()

	p.mu.Lock()
	if n > p.maxWorkers {
		n = p.maxWorkers
	}
	missing := n - p.curRunning
	if missing < 0 {
		missing = 0
	}
	if missing > 0 {
		logging.Debug(fmt.Sprintf("%s: high activity, starting %d additional worker(s)", p.Tag(), missing))
		for i := 0; i < missing; i++ {
			if err := p.startWorkerLocked(); err != nil {
				p.mu.Unlock()
				return err
			}
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	p.WakeupWorker()
	return nil
}

// startWorkerLocked launches a worker on the first free slot. Caller holds
// the pool mutex.
func (p *Pool) startWorkerLocked() error {
	p.curRunning++

	var w *Worker
	for _, cand := range p.workers {
		if cand.getState() == CmdStopped {
			w = cand
			break
		}
	}
	if w == nil {
		p.curRunning--
		return ErrNoMoreWorkers
	}

	w.reset()
	w.setState(CmdRunCreated, false)
	go p.workerShell(w)

	// Just started a worker and we would like to see it actually run.
	p.inactivityGuard = true

	logging.Debug(fmt.Sprintf("%s: started %s, num workers now %d", p.Tag(), w.Tag(), p.curRunning))

	// Give the newcomer a chance to get onto a CPU.
	runtime.Gosched()
	return nil
}

// workerShell is the goroutine entry for every worker. It wraps the inner
// work loop with the pool-side bookkeeping: state transitions, the
// inactivity guard, cancel compensation, and the termination signal. The
// decrement of curRunning and the termination signal run on every exit
// path.
func (p *Pool) workerShell(w *Worker) {
	defer close(w.done)

	p.mu.Lock()
	w.setState(CmdRunInit, false)
	w.setState(CmdRunning, false)

	cancelled := false
	for {
		p.mu.Unlock()
		cancelled = w.workerLoop()
		p.mu.Lock()
		if !cancelled && p.curRunning == 1 && p.inactivityGuard {
			// The last worker loops once more so the fleet cannot die out
			// while the producer is publishing. One possibly-redundant
			// iteration is acceptable; a stalled producer is not.
			p.inactivityGuard = false
			continue
		}
		break
	}
	p.mu.Unlock()

	if cancelled {
		// Compensation runs before the termination signal so the producer
		// observes the requeued payload before it can conclude shutdown.
		p.cb.OnWorkerCancel(p.user, w.takeScratch())
		logging.Debug(fmt.Sprintf("%s: cancelled", w.Tag()))
	} else {
		// Once per goroutine lifetime, like the startup hook; the guard's
		// extra work-loop pass must not fire it a second time.
		p.cb.OnWorkerShutdown(p.user)
	}

	w.setState(CmdTerminating, true)
	w.setState(CmdTerminated, true)

	p.mu.Lock()
	p.curRunning--
	if p.curRunning == 0 {
		p.inactivityGuard = false
	}
	logging.Debug(fmt.Sprintf("%s: worker terminated, num workers now %d", p.Tag(), p.curRunning))
	p.termCond.Signal()
	p.mu.Unlock()
}

// chkStopWorker decides whether a worker must wind down: immediately on
// SHUTDOWN_IMMEDIATE, on SHUTDOWN once the producer is idle, and otherwise
// by asking the user's own stop check. Takes the pool mutex when lockPool
// is set; never acquires the user mutex (userLocked is passed through to
// the user callbacks).
func (p *Pool) chkStopWorker(lockPool, userLocked bool) error {
	var ret error
	if lockPool {
		p.mu.Lock()
	}
	if p.state == StateShutdownImmediate {
		ret = ErrTerminateNow
	} else if p.state == StateShutdown && p.cb.IsIdle(p.user, userLocked) {
		ret = ErrTerminateNow
	}
	if lockPool {
		p.mu.Unlock()
	}
	if ret == nil {
		ret = p.cb.ChkStopWorker(p.user, userLocked)
	}
	return ret
}

// ShutdownAll moves the pool to the given shutdown state, unparks every
// worker, and waits for the fleet to drain. A zero timeout applies the
// configured shutdown timeout; WaitIndefinitely waits without deadline.
// Returns ErrTimedOut if workers were still running at the deadline; the
// caller decides whether to escalate to CancelAll.
func (p *Pool) ShutdownAll(cmd State, timeout time.Duration) error {
	if cmd != StateShutdown && cmd != StateShutdownImmediate {
		return ErrParam
	}

	p.SetState(cmd)
	p.WakeupAllWorkers()

	if timeout == 0 {
		timeout = p.shutdownTimeout
	}
	deadline := time.Now().Add(timeout)

	timedOut := false
	p.mu.Lock()
	for p.curRunning > 0 && !timedOut {
		logging.Debug(fmt.Sprintf("%s: waiting on worker termination, %d still running", p.Tag(), p.curRunning))
		if timeout == WaitIndefinitely {
			p.termCond.Wait()
		} else if WaitDeadline(p.termCond, deadline) && p.curRunning > 0 {
			logging.Debug(fmt.Sprintf("%s: timeout waiting on worker termination", p.Tag()))
			timedOut = true
		}
	}
	p.mu.Unlock()

	// Harvest everyone who finished, even in the timeout case.
	p.ProcessThreadChanges()

	if timedOut {
		return ErrTimedOut
	}
	return nil
}

// CancelAll forcefully cancels all workers that are still live. It is the
// last resort after ShutdownAll timed out. Workers observe the token at
// their next suspension point, run the cancel compensation, and terminate;
// call ProcessThreadChanges (or ShutdownAll again) once drained.
func (p *Pool) CancelAll() {
	// Process pending terminations first so we know who actually is live.
	p.ProcessThreadChanges()

	for _, w := range p.workers {
		if w.requestCancel() {
			logging.Debug(fmt.Sprintf("%s: cancelling %s", p.Tag(), w.Tag()))
		}
	}

	// Unpark idle workers so they observe the token now rather than at
	// their idle deadline.
	p.WakeupAllWorkers()
}

// ProcessThreadChanges harvests terminated workers: each TERMINATED slot is
// joined and reset to STOPPED. Cheap when nothing changed. Must not be
// called with the pool mutex held.
func (p *Pool) ProcessThreadChanges() {
	if !p.stateChanged.CompareAndSwap(true, false) {
		return
	}
	for _, w := range p.workers {
		w.harvest()
	}
}

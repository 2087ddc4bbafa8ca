// Package queue implements the daemon's main message queue: a bounded FIFO
// that feeds a worker pool. The queue is the pool's "user": it owns the
// mutex and the busy condition the pool parks workers on, and it binds the
// pool's callbacks to its own state.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daemon13/rsyslog/internal/logging"
	"github.com/daemon13/rsyslog/internal/syslog"
	"github.com/daemon13/rsyslog/internal/worker"
)

// ErrFull is returned by Enqueue when the queue is at capacity.
var ErrFull = errors.New("queue: full")

// ErrShutdown is returned by Enqueue once the queue is draining.
var ErrShutdown = errors.New("queue: shutting down")

// Consumer delivers one message. Long deliveries should select on cancel,
// which is closed when the delivering worker is forcefully cancelled.
type Consumer func(m *syslog.Message, cancel <-chan struct{}) error

// Config holds queue construction parameters.
type Config struct {
	Tag             string
	Capacity        int
	MaxWorkers      int
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Queue is a bounded in-memory FIFO of messages, drained by a worker pool.
type Queue struct {
	mu   sync.Mutex // the pool's user mutex
	busy *sync.Cond // on mu; signalled when work arrives

	buf   []*syslog.Message // ring buffer
	head  int
	count int

	pool     *worker.Pool
	consumer Consumer
	draining bool

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	requeued  atomic.Uint64

	// workersUp tracks the delivery workers currently between their
	// startup and shutdown (or cancel) hooks.
	workersUp atomic.Int32
}

// New constructs the queue, binds it to a freshly finalized worker pool,
// and returns it ready to accept messages.
func New(cfg Config, consume Consumer) (*Queue, error) {
	if cfg.Capacity <= 0 || cfg.MaxWorkers <= 0 || consume == nil {
		return nil, worker.ErrParam
	}
	if cfg.Tag == "" {
		cfg.Tag = "main queue"
	}

	q := &Queue{
		buf:      make([]*syslog.Message, cfg.Capacity),
		consumer: consume,
	}
	q.busy = sync.NewCond(&q.mu)

	p := worker.NewPool(cfg.Tag)
	if err := p.SetMaxWorkers(cfg.MaxWorkers); err != nil {
		return nil, err
	}
	if cfg.IdleTimeout > 0 {
		if err := p.SetIdleTimeout(cfg.IdleTimeout); err != nil {
			return nil, err
		}
	}
	if cfg.ShutdownTimeout > 0 {
		if err := p.SetShutdownTimeout(cfg.ShutdownTimeout); err != nil {
			return nil, err
		}
	}
	if err := p.SetUser(q); err != nil {
		return nil, err
	}
	if err := p.SetUserMutex(&q.mu); err != nil {
		return nil, err
	}
	if err := p.SetBusyCond(q.busy); err != nil {
		return nil, err
	}
	if err := p.SetCallbacks(worker.Callbacks{
		ChkStopWorker:    q.cbChkStopWorker,
		IsIdle:           q.cbIsIdle,
		DoWork:           q.cbDoWork,
		OnIdle:           q.cbOnIdle,
		OnWorkerStartup:  q.cbOnWorkerStartup,
		OnWorkerShutdown: q.cbOnWorkerShutdown,
		OnWorkerCancel:   q.cbOnWorkerCancel,
	}); err != nil {
		return nil, err
	}
	if err := p.FinalizeConstruction(); err != nil {
		return nil, err
	}
	q.pool = p
	return q, nil
}

// Pool exposes the queue's worker pool.
func (q *Queue) Pool() *worker.Pool { return q.pool }

// Enqueue appends a message and makes sure a worker will pick it up: the
// pool is advised to run as many workers as there are pending messages
// (capped by its slot table), which either spawns a worker or signals the
// busy condition.
func (q *Queue) Enqueue(m *syslog.Message) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrShutdown
	}
	if q.count == len(q.buf) {
		q.mu.Unlock()
		q.dropped.Add(1)
		return ErrFull
	}
	q.buf[(q.head+q.count)%len(q.buf)] = m
	q.count++
	pending := q.count
	q.mu.Unlock()

	q.enqueued.Add(1)
	if err := q.pool.AdviseMaxWorkers(pending); err != nil {
		if !errors.Is(err, worker.ErrNoMoreWorkers) {
			return err
		}
		// Every slot is taken by a worker that is still winding down; the
		// message is queued, so a wakeup is enough. The next enqueue (or
		// the inactivity guard) picks it up if nobody is parked yet.
		q.pool.WakeupWorker()
	}
	return nil
}

// Pending returns the number of queued messages.
func (q *Queue) Pending() int {
	q.mu.Lock()
	n := q.count
	q.mu.Unlock()
	return n
}

// Stats returns the queue's lifetime counters.
func (q *Queue) Stats() (enqueued, delivered, dropped, requeued uint64) {
	return q.enqueued.Load(), q.delivered.Load(), q.dropped.Load(), q.requeued.Load()
}

// ActiveWorkers returns the number of delivery workers currently between
// their startup and shutdown hooks.
func (q *Queue) ActiveWorkers() int {
	return int(q.workersUp.Load())
}

// Shutdown drains the queue: first a graceful drain, then an immediate
// shutdown, then forceful cancellation of whatever is left. Returns nil if
// the fleet is gone by the end.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.draining = true
	q.mu.Unlock()

	if err := q.pool.ShutdownAll(worker.StateShutdown, timeout); err == nil {
		return nil
	}
	logging.Warn(fmt.Sprintf("%s: graceful drain timed out, forcing shutdown", q.pool.Tag()))
	if err := q.pool.ShutdownAll(worker.StateShutdownImmediate, timeout); err == nil {
		return nil
	}
	q.pool.CancelAll()
	return q.pool.ShutdownAll(worker.StateShutdownImmediate, timeout)
}

// dequeueLocked removes the oldest message; caller holds q.mu.
func (q *Queue) dequeueLocked() *syslog.Message {
	if q.count == 0 {
		return nil
	}
	m := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return m
}

// requeueFrontLocked puts a message back at the head; caller holds q.mu.
// Used by cancel compensation, so the message is not lost and keeps its
// place in line. If the queue filled up meanwhile the message is dropped.
func (q *Queue) requeueFrontLocked(m *syslog.Message) bool {
	if q.count == len(q.buf) {
		return false
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = m
	q.count++
	return true
}

// cbChkStopWorker stops workers as soon as the queue is draining and
// empty, covering the window before the pool's own shutdown state is set.
// Runs with q.mu held.
func (q *Queue) cbChkStopWorker(any, bool) error {
	if q.draining && q.count == 0 {
		return worker.ErrTerminateNow
	}
	return nil
}

// cbIsIdle reports whether the queue is empty. Runs with q.mu held.
func (q *Queue) cbIsIdle(any, bool) bool {
	return q.count == 0
}

// cbOnWorkerStartup and cbOnWorkerShutdown track the delivery fleet. A
// cancelled worker never reaches the shutdown hook; its decrement happens
// in the cancel compensation instead.
func (q *Queue) cbOnWorkerStartup(any) {
	n := q.workersUp.Add(1)
	logging.Debug(fmt.Sprintf("%s: delivery worker up, %d active", q.pool.Tag(), n))
}

func (q *Queue) cbOnWorkerShutdown(any) {
	n := q.workersUp.Add(-1)
	logging.Debug(fmt.Sprintf("%s: delivery worker down, %d active", q.pool.Tag(), n))
}

// cbDoWork delivers one message. The queue mutex is released around the
// consumer call; the in-flight message sits in the worker's scratch slot
// until delivery succeeded, so cancellation can return it to the queue.
func (q *Queue) cbDoWork(_ any, w *worker.Worker, _ bool) error {
	m := q.dequeueLocked()
	if m == nil {
		return nil
	}
	w.SetScratch(m)

	q.mu.Unlock()
	err := q.consumer(m, w.Cancelled())
	q.mu.Lock()

	if err != nil {
		select {
		case <-w.Cancelled():
			// Delivery was interrupted; leave the message in the scratch
			// slot for the cancel compensation to requeue.
			return err
		default:
		}
	}

	w.SetScratch(nil)
	if err == nil {
		q.delivered.Add(1)
	}
	return err
}

// cbOnIdle parks the worker on the busy condition until new work arrives,
// the pool wakes it, or the idle deadline passes. Runs with q.mu held.
func (q *Queue) cbOnIdle(any, bool) error {
	deadline := time.Now().Add(q.pool.IdleTimeout())
	if worker.WaitDeadline(q.busy, deadline) && q.count == 0 {
		return worker.ErrTimedOut
	}
	// Woken up: let the worker re-check the stop condition and the queue.
	return nil
}

// cbOnWorkerCancel returns a cancelled worker's in-flight message to the
// front of the queue. Runs with no lock held.
func (q *Queue) cbOnWorkerCancel(_ any, scratch any) {
	q.workersUp.Add(-1)
	m, ok := scratch.(*syslog.Message)
	if !ok || m == nil {
		return
	}
	q.mu.Lock()
	ok = q.requeueFrontLocked(m)
	q.mu.Unlock()
	if ok {
		q.requeued.Add(1)
		logging.Debug(fmt.Sprintf("%s: requeued in-flight message after cancel", q.pool.Tag()))
	} else {
		q.dropped.Add(1)
		logging.Warn(fmt.Sprintf("%s: queue full, dropped in-flight message after cancel", q.pool.Tag()))
	}
}

package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countQueue is a minimal producer: a counter of pending work units with
// the busy-condition discipline a real queue uses.
type countQueue struct {
	mu   sync.Mutex
	busy *sync.Cond

	pending int
	pool    *Pool

	// blockFirst makes the first claimed unit block until cancellation.
	blockFirst atomic.Bool
	inWork     atomic.Int32

	workDone  atomic.Int32
	cancels   atomic.Int32
	startups  atomic.Int32
	idleWaits atomic.Int32
	workDelay time.Duration
}

func newCountQueue() *countQueue {
	u := &countQueue{}
	u.busy = sync.NewCond(&u.mu)
	return u
}

// bind wires the producer into a finalized pool.
func (u *countQueue) bind(t *testing.T, maxWorkers int, idleTimeout time.Duration) *Pool {
	t.Helper()
	p := NewPool("testpool")
	require.NoError(t, p.SetMaxWorkers(maxWorkers))
	require.NoError(t, p.SetIdleTimeout(idleTimeout))
	require.NoError(t, p.SetUser(u))
	require.NoError(t, p.SetUserMutex(&u.mu))
	require.NoError(t, p.SetBusyCond(u.busy))
	require.NoError(t, p.SetCallbacks(Callbacks{
		IsIdle:          u.cbIsIdle,
		DoWork:          u.cbDoWork,
		OnIdle:          u.cbOnIdle,
		OnWorkerStartup: func(any) { u.startups.Add(1) },
		OnWorkerCancel:  u.cbOnWorkerCancel,
	}))
	require.NoError(t, p.FinalizeConstruction())
	u.pool = p
	return p
}

// add publishes n units of work and advises the pool, like a queue's
// enqueue path does.
func (u *countQueue) add(n int) {
	u.mu.Lock()
	u.pending += n
	pending := u.pending
	u.mu.Unlock()
	_ = u.pool.AdviseMaxWorkers(pending)
}

func (u *countQueue) cbIsIdle(any, bool) bool {
	return u.pending == 0
}

func (u *countQueue) cbDoWork(_ any, w *Worker, _ bool) error {
	if u.pending == 0 {
		return nil
	}
	u.pending--
	w.SetScratch(1)
	u.inWork.Add(1)
	u.mu.Unlock()

	var err error
	if u.blockFirst.CompareAndSwap(true, false) {
		// Simulated stuck delivery: only cancellation ends it.
		<-w.Cancelled()
		err = errors.New("delivery interrupted")
	} else if u.workDelay > 0 {
		select {
		case <-time.After(u.workDelay):
		case <-w.Cancelled():
			err = errors.New("delivery interrupted")
		}
	}

	u.inWork.Add(-1)
	u.mu.Lock()
	if err == nil {
		w.SetScratch(nil)
		u.workDone.Add(1)
	}
	return err
}

func (u *countQueue) cbOnIdle(any, bool) error {
	u.idleWaits.Add(1)
	deadline := time.Now().Add(u.pool.IdleTimeout())
	if WaitDeadline(u.busy, deadline) && u.pending == 0 {
		return ErrTimedOut
	}
	return nil
}

func (u *countQueue) cbOnWorkerCancel(_ any, scratch any) {
	u.cancels.Add(1)
	if scratch == nil {
		return
	}
	// Return the in-flight unit to the producer.
	u.mu.Lock()
	u.pending++
	u.mu.Unlock()
}

func (u *countQueue) pendingCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.pending
}

// waitFor polls until cond holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestShutdownDrainsAllWork(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 4, 100*time.Millisecond)

	u.add(100)
	require.NoError(t, p.AdviseMaxWorkers(4))

	require.NoError(t, p.ShutdownAll(StateShutdown, 5*time.Second))
	assert.Equal(t, int32(100), u.workDone.Load())
	assert.Equal(t, 0, p.CurrentWorkers())
	assert.Equal(t, 0, u.pendingCount())
}

func TestShutdownWithoutDeadline(t *testing.T) {
	u := newCountQueue()
	u.workDelay = 5 * time.Millisecond
	p := u.bind(t, 2, 100*time.Millisecond)

	u.add(10)
	require.NoError(t, p.ShutdownAll(StateShutdown, WaitIndefinitely))
	assert.Equal(t, int32(10), u.workDone.Load())
	assert.Equal(t, 0, p.CurrentWorkers())
	for i := 0; i < p.MaxWorkers(); i++ {
		assert.Equal(t, CmdStopped, p.Worker(i).getState())
	}
}

func TestIdleWorkersWindDown(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 2, 50*time.Millisecond)

	require.NoError(t, p.AdviseMaxWorkers(2))
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, p.ShutdownAll(StateShutdown, time.Second))
	assert.Equal(t, int32(0), u.workDone.Load())
	assert.Equal(t, 0, p.CurrentWorkers())
}

func TestImmediateShutdownTimesOutThenCancelDrains(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 1, time.Second)
	u.blockFirst.Store(true)

	u.add(1)
	require.True(t, waitFor(t, time.Second, func() bool { return u.inWork.Load() == 1 }),
		"worker never claimed the blocking unit")

	err := p.ShutdownAll(StateShutdownImmediate, 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimedOut)

	p.CancelAll()
	require.NoError(t, p.ShutdownAll(StateShutdownImmediate, time.Second))
	assert.Equal(t, int32(1), u.cancels.Load())
	assert.Equal(t, 0, p.CurrentWorkers())
}

func TestAdviseClampsToMaxWorkers(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 8, time.Second)

	require.NoError(t, p.AdviseMaxWorkers(20))
	assert.Equal(t, 8, p.CurrentWorkers())
	assert.True(t, waitFor(t, time.Second, func() bool { return u.startups.Load() == 8 }))

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
}

func TestConcurrentAdviseSingleUnit(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 3, 100*time.Millisecond)

	u.mu.Lock()
	u.pending = 1
	u.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.AdviseMaxWorkers(3))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, p.CurrentWorkers(), 3)
	require.True(t, waitFor(t, time.Second, func() bool { return u.workDone.Load() == 1 }))

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
	assert.Equal(t, int32(1), u.workDone.Load())
	assert.LessOrEqual(t, u.startups.Load(), int32(3))
}

func TestCancelledUnitIsRequeuedAndProcessed(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 2, 500*time.Millisecond)
	u.blockFirst.Store(true)

	u.add(1)
	require.True(t, waitFor(t, time.Second, func() bool { return u.inWork.Load() == 1 }))

	p.CancelAll()
	require.True(t, waitFor(t, time.Second, func() bool { return u.cancels.Load() == 1 }))

	// A second unit arrives after the crash; both it and the requeued one
	// must be processed by a fresh worker.
	u.add(1)
	require.True(t, waitFor(t, 2*time.Second, func() bool { return u.workDone.Load() == 2 }))

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
	assert.Equal(t, int32(1), u.cancels.Load())
}

func TestBoundedFleet(t *testing.T) {
	u := newCountQueue()
	u.workDelay = 10 * time.Millisecond
	p := u.bind(t, 4, 50*time.Millisecond)

	stop := make(chan struct{})
	var exceeded atomic.Bool
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := p.CurrentWorkers(); n < 0 || n > 4 {
				exceeded.Store(true)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 20; i++ {
		u.add(5)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, p.ShutdownAll(StateShutdown, 5*time.Second))
	close(stop)

	assert.False(t, exceeded.Load(), "worker count left [0, maxWorkers]")
	assert.Equal(t, int32(100), u.workDone.Load())
}

func TestAdviseWakesParkedWorker(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 1, 5*time.Second)

	// Park one worker on the busy condition.
	require.NoError(t, p.AdviseMaxWorkers(1))
	require.True(t, waitFor(t, time.Second, func() bool { return u.idleWaits.Load() >= 1 }))

	// No spawn happens (fleet is full), so the advise must signal instead.
	u.add(1)
	require.True(t, waitFor(t, time.Second, func() bool { return u.workDone.Load() == 1 }),
		"parked worker was not woken by advise")

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
}

func TestInactivityGuardGrantsExtraIteration(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 1, 50*time.Millisecond)

	require.NoError(t, p.AdviseMaxWorkers(1))
	require.True(t, waitFor(t, 2*time.Second, func() bool { return p.CurrentWorkers() == 0 }))

	// The sole worker idles out once, then the guard forces one more pass
	// over the work check before the goroutine may exit.
	assert.GreaterOrEqual(t, u.idleWaits.Load(), int32(2))
	p.ProcessThreadChanges()
	require.NoError(t, p.ShutdownAll(StateShutdown, time.Second))
}

func TestHarvestIsIdempotent(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 2, 50*time.Millisecond)

	u.add(2)
	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))

	for i := 0; i < 3; i++ {
		p.ProcessThreadChanges()
	}
	for i := 0; i < p.MaxWorkers(); i++ {
		assert.Equal(t, CmdStopped, p.Worker(i).getState())
	}
}

func TestWorkersAreRecycledAfterIdleDeath(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 2, 50*time.Millisecond)

	u.add(2)
	require.True(t, waitFor(t, time.Second, func() bool { return u.workDone.Load() == 2 }))
	// Let the fleet idle out completely.
	require.True(t, waitFor(t, 2*time.Second, func() bool { return p.CurrentWorkers() == 0 }))

	// Fresh work must revive the fleet through the same slots.
	u.add(2)
	require.True(t, waitFor(t, time.Second, func() bool { return u.workDone.Load() == 4 }))

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
}

func TestShutdownImmediateIsTerminal(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 1, 50*time.Millisecond)

	p.SetState(StateShutdownImmediate)
	p.SetState(StateRunning)
	assert.Equal(t, StateShutdownImmediate, p.State())
}

func TestStartWorkerFailsWhenNoSlotFree(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 1, 5*time.Second)

	require.NoError(t, p.AdviseMaxWorkers(1))
	require.True(t, waitFor(t, time.Second, func() bool { return u.idleWaits.Load() >= 1 }))

	p.mu.Lock()
	err := p.startWorkerLocked()
	running := p.curRunning
	p.mu.Unlock()

	assert.ErrorIs(t, err, ErrNoMoreWorkers)
	assert.Equal(t, 1, running, "failed start must back out its increment")

	require.NoError(t, p.ShutdownAll(StateShutdown, 2*time.Second))
}

func TestSettersForbiddenAfterFinalize(t *testing.T) {
	p := NewPool("frozen")
	require.NoError(t, p.FinalizeConstruction())

	assert.ErrorIs(t, p.SetMaxWorkers(4), ErrParam)
	assert.ErrorIs(t, p.SetIdleTimeout(time.Second), ErrParam)
	assert.ErrorIs(t, p.SetShutdownTimeout(time.Second), ErrParam)
	assert.ErrorIs(t, p.SetUser(nil), ErrParam)
	assert.ErrorIs(t, p.SetUserMutex(&sync.Mutex{}), ErrParam)
	assert.ErrorIs(t, p.SetCallbacks(Callbacks{}), ErrParam)
	assert.ErrorIs(t, p.FinalizeConstruction(), ErrParam)
}

func TestAdviseZeroIsNoop(t *testing.T) {
	u := newCountQueue()
	p := u.bind(t, 2, 50*time.Millisecond)

	require.NoError(t, p.AdviseMaxWorkers(0))
	assert.Equal(t, 0, p.CurrentWorkers())
	require.NoError(t, p.ShutdownAll(StateShutdown, time.Second))
}

func TestCustomStopCheckTerminatesWorkers(t *testing.T) {
	u := newCountQueue()
	var stopAll atomic.Bool

	p := NewPool("customstop")
	require.NoError(t, p.SetMaxWorkers(2))
	require.NoError(t, p.SetIdleTimeout(5*time.Second))
	require.NoError(t, p.SetUser(u))
	require.NoError(t, p.SetUserMutex(&u.mu))
	require.NoError(t, p.SetBusyCond(u.busy))
	require.NoError(t, p.SetCallbacks(Callbacks{
		IsIdle: u.cbIsIdle,
		DoWork: u.cbDoWork,
		OnIdle: u.cbOnIdle,
		ChkStopWorker: func(any, bool) error {
			if stopAll.Load() {
				return ErrTerminateNow
			}
			return nil
		},
	}))
	require.NoError(t, p.FinalizeConstruction())
	u.pool = p

	require.NoError(t, p.AdviseMaxWorkers(2))
	assert.Equal(t, 2, p.CurrentWorkers())

	stopAll.Store(true)
	p.WakeupAllWorkers()
	require.True(t, waitFor(t, 2*time.Second, func() bool { return p.CurrentWorkers() == 0 }))
}

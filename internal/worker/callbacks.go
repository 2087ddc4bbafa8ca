package worker

// Callbacks is the set of hooks through which the pool drives its user, the
// producer object (typically a message queue). The pool never touches the
// user's internal state directly; every interaction goes through one of
// these entries.
//
// The userLocked argument tells the callback whether the user mutex is
// already held by the caller. Callbacks invoked from the worker loop always
// run with the user mutex held; DoWork must release and re-acquire it
// itself around blocking operations.
type Callbacks struct {
	// ChkStopWorker may return ErrTerminateNow to make a worker wind down.
	// Consulted only when the pool's own shutdown checks did not already
	// decide to stop.
	ChkStopWorker func(user any, userLocked bool) error

	// IsIdle reports whether the producer currently has no work. Pure
	// predicate, must not block.
	IsIdle func(user any, userLocked bool) bool

	// DoWork performs one unit of work. The in-flight payload should be
	// stashed in the worker's scratch slot so OnWorkerCancel can return it
	// to the producer if the worker is cancelled mid-flight.
	DoWork func(user any, w *Worker, userLocked bool) error

	// OnIdle is invoked when IsIdle holds. It typically waits on the busy
	// condition with a deadline no later than the pool's idle timeout, and
	// returns ErrTimedOut when the wait expired without new work; the
	// worker then self-terminates to shrink the fleet.
	OnIdle func(user any, userLocked bool) error

	// OnWorkerStartup and OnWorkerShutdown run once per worker thread
	// lifetime, outside any lock.
	OnWorkerStartup  func(user any)
	OnWorkerShutdown func(user any)

	// OnWorkerCancel compensates a forcible cancellation: it receives the
	// worker's scratch payload so the producer can requeue it. It runs
	// before the termination condition is signalled for the slot.
	OnWorkerCancel func(user any, scratch any)
}

// withDefaults fills every nil entry so the pool can call hooks without
// checking for presence.
func (cb Callbacks) withDefaults() Callbacks {
	if cb.ChkStopWorker == nil {
		cb.ChkStopWorker = func(any, bool) error { return nil }
	}
	if cb.IsIdle == nil {
		cb.IsIdle = func(any, bool) bool { return false }
	}
	if cb.DoWork == nil {
		cb.DoWork = func(any, *Worker, bool) error { return nil }
	}
	if cb.OnIdle == nil {
		// Without a real producer there is nothing to wait on; report an
		// expired idle wait so workers wind down instead of spinning.
		cb.OnIdle = func(any, bool) error { return ErrTimedOut }
	}
	if cb.OnWorkerStartup == nil {
		cb.OnWorkerStartup = func(any) {}
	}
	if cb.OnWorkerShutdown == nil {
		cb.OnWorkerShutdown = func(any) {}
	}
	if cb.OnWorkerCancel == nil {
		cb.OnWorkerCancel = func(any, any) {}
	}
	return cb
}

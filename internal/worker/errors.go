package worker

import "errors"

var (
	// ErrNoMoreWorkers is returned when a worker should be started but no
	// free slot exists in the pool's worker table.
	ErrNoMoreWorkers = errors.New("worker: no free worker slot")

	// ErrTimedOut is returned by ShutdownAll when workers did not drain
	// within the deadline, and by OnIdle callbacks when the idle wait
	// expired without new work arriving.
	ErrTimedOut = errors.New("worker: timed out")

	// ErrParam indicates misuse of the pool API, e.g. a configuration
	// setter called after FinalizeConstruction.
	ErrParam = errors.New("worker: invalid parameter")

	// ErrTerminateNow instructs the worker loop to stop. It is returned by
	// stop checks and may be returned by DoWork; any other DoWork error is
	// the producer's business and does not break the loop.
	ErrTerminateNow = errors.New("worker: terminate now")
)

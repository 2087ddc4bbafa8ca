package worker

import (
	"sync"
	"time"
)

// WaitDeadline waits on c until it is signalled or the deadline passes.
// c.L must be held on entry and is held again on return. Reports whether
// the deadline passed before the wait ended.
//
// The timer wakes the condition with a broadcast, so sibling waiters may
// observe a spurious wakeup; per condition-variable discipline they must
// re-check their predicate (and their own deadline) after every wait.
func WaitDeadline(c *sync.Cond, deadline time.Time) (timedOut bool) {
	if !time.Now().Before(deadline) {
		return true
	}
	t := time.AfterFunc(time.Until(deadline), func() {
		// Take the lock so the broadcast cannot fire between the caller's
		// predicate check and its Wait.
		c.L.Lock()
		c.Broadcast()
		c.L.Unlock()
	})
	c.Wait()
	t.Stop()
	return !time.Now().Before(deadline)
}

// WaitTimeout is WaitDeadline with a relative duration.
func WaitTimeout(c *sync.Cond, d time.Duration) (timedOut bool) {
	return WaitDeadline(c, time.Now().Add(d))
}

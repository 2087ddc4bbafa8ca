// Package output contains the daemon's delivery targets. A Writer receives
// fully parsed messages; the Fanout dispatcher is what the queue's workers
// invoke, delivering each message to every configured target.
package output

import (
	"errors"
	"sync"

	"github.com/daemon13/rsyslog/internal/logging"
	"github.com/daemon13/rsyslog/internal/syslog"
)

// Writer is a single delivery target.
type Writer interface {
	// Name identifies the target in logs and `list outputs`.
	Name() string

	// Write delivers one message. Implementations must be safe for
	// concurrent use; the pool runs several workers.
	Write(m *syslog.Message) error

	// Close flushes and releases the target.
	Close() error
}

// Known lists the output kinds the daemon can construct.
func Known() []string {
	return []string{"console", "file", "cloudwatch"}
}

// Fanout delivers every message to all configured writers.
type Fanout struct {
	mu      sync.RWMutex
	writers []Writer
}

// NewFanout builds a dispatcher over the given writers.
func NewFanout(ws ...Writer) *Fanout {
	return &Fanout{writers: ws}
}

// Writers returns the configured targets.
func (f *Fanout) Writers() []Writer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Writer(nil), f.writers...)
}

// Deliver writes the message to every target. It matches the queue's
// consumer signature; per-target failures are logged and joined into the
// returned error. The cancel token is unused here: writes are not
// interrupted mid-flight (the cloudwatch writer bounds its own retries).
func (f *Fanout) Deliver(m *syslog.Message, _ <-chan struct{}) error {
	f.mu.RLock()
	ws := f.writers
	f.mu.RUnlock()

	var errs []error
	for _, w := range ws {
		if err := w.Write(m); err != nil {
			logging.OutputError(w.Name(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all targets.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs []error
	for _, w := range f.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.writers = nil
	return errors.Join(errs...)
}

// Package klog reads kernel log messages from a kmsg-style device file and
// feeds them into the daemon's queue, taking over the role the classic
// klogd daemon played.
package klog

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/daemon13/rsyslog/internal/logging"
	"github.com/daemon13/rsyslog/internal/queue"
	"github.com/daemon13/rsyslog/internal/syslog"
)

// DefaultPath is the proc file the kernel log is read from.
const DefaultPath = "/proc/kmsg"

// eofPollInterval is how long the reader sleeps at EOF before retrying.
// /proc/kmsg blocks instead of reporting EOF; the poll only matters for
// regular files.
const eofPollInterval = 100 * time.Millisecond

// Reader tails the kernel log and enqueues each line as a message.
type Reader struct {
	path string
	q    *queue.Queue

	mu      sync.Mutex
	f       *os.File
	stopped bool
	done    chan struct{}
}

// New creates a reader for the given path; an empty path selects
// DefaultPath.
func New(path string, q *queue.Queue) *Reader {
	if path == "" {
		path = DefaultPath
	}
	return &Reader{path: path, q: q, done: make(chan struct{})}
}

// Start opens the kernel log source and begins reading on its own
// goroutine.
func (r *Reader) Start() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.f = f
	r.mu.Unlock()

	logging.InputStart("klog", r.path)
	go r.run(f)
	return nil
}

// Stop terminates the reader. Closing the file unblocks a pending read;
// the goroutine exits once it observes the stop mark.
func (r *Reader) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	f := r.f
	r.mu.Unlock()

	if f != nil {
		f.Close()
	}
	<-r.done
}

func (r *Reader) isStopped() bool {
	r.mu.Lock()
	s := r.stopped
	r.mu.Unlock()
	return s
}

func (r *Reader) run(f *os.File) {
	defer close(r.done)

	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadString('\n')
		if line != "" {
			r.submit(line)
		}
		if err != nil {
			if r.isStopped() {
				return
			}
			if errors.Is(err, io.EOF) {
				time.Sleep(eofPollInterval)
				continue
			}
			logging.Error("klog: read failed", err)
			return
		}
	}
}

// submit decodes the priority marker and enqueues the message. Kernel
// messages without a marker default to kern.notice.
func (r *Reader) submit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	fac, sev, text := syslog.ParsePriority(line, syslog.FacilityKern, syslog.SeverityNotice)
	m := &syslog.Message{
		Time:     time.Now(),
		Facility: fac,
		Severity: sev,
		Tag:      "kernel",
		Text:     text,
	}
	if err := r.q.Enqueue(m); err != nil {
		logging.Warn("klog: message dropped", map[string]interface{}{"reason": err.Error()})
	}
}

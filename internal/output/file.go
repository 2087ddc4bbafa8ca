package output

import (
	"fmt"
	"os"
	"sync"

	"github.com/daemon13/rsyslog/internal/syslog"
)

// File appends messages to a log file in the classic syslog line format.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// NewFile opens (or creates) the log file for appending.
func NewFile(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &File{path: path, f: f}, nil
}

func (w *File) Name() string { return "file" }

func (w *File) Write(m *syslog.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.f, "%s %s\n", m.Time.Format("Jan  2 15:04:05"), m.String())
	return err
}

func (w *File) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

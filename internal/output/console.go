package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/daemon13/rsyslog/internal/syslog"
)

var (
	emergColor = color.New(color.FgRed, color.Bold)
	errColor   = color.New(color.FgRed)
	warnColor  = color.New(color.FgYellow)
	infoColor  = color.New(color.FgGreen)
	debugColor = color.New(color.FgCyan)
)

// Console writes messages to a terminal, coloured by severity.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole creates a console writer on stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleTo creates a console writer on an arbitrary stream, mainly for
// tests.
func NewConsoleTo(w io.Writer) *Console {
	return &Console{out: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Write(m *syslog.Message) error {
	sevStr := severityColor(m.Severity).Sprintf("%-7s", m.Severity.String())

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s.%s %s\n",
		m.Time.Format("2006/01/02 15:04:05"), m.Facility, sevStr, m.String())
	return err
}

func (c *Console) Close() error { return nil }

func severityColor(s syslog.Severity) *color.Color {
	switch {
	case s <= syslog.SeverityCrit:
		return emergColor
	case s == syslog.SeverityErr:
		return errColor
	case s == syslog.SeverityWarning:
		return warnColor
	case s == syslog.SeverityDebug:
		return debugColor
	default:
		return infoColor
	}
}

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
)

// Level represents a logging level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Format represents the log output format
type Format int

const (
	Text Format = iota
	JSON
)

// Logger handles structured logging
type Logger struct {
	out    io.Writer
	level  Level
	format Format
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level  Level
	Format Format
}

var (
	defaultLogger = &Logger{
		out:    os.Stderr,
		level:  INFO,
		format: Text,
	}

	// Color definitions
	debugColor = color.New(color.FgCyan)
	infoColor  = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
)

// Configure sets up the default logger
func Configure(config LogConfig) {
	defaultLogger.level = config.Level
	defaultLogger.format = config.Format
}

type logEntry struct {
	Timestamp string      `json:"timestamp"`
	Level     string      `json:"level"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
}

func (l *Logger) log(level Level, msg string, data interface{}) {
	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006/01/02 15:04:05")

	if l.format == JSON {
		entry := logEntry{
			Timestamp: timestamp,
			Level:     level.String(),
			Message:   msg,
			Data:      data,
		}
		json.NewEncoder(l.out).Encode(entry)
		return
	}

	// Text format with colors
	var levelColor *color.Color
	switch level {
	case DEBUG:
		levelColor = debugColor
	case INFO:
		levelColor = infoColor
	case WARN:
		levelColor = warnColor
	case ERROR:
		levelColor = errorColor
	}

	levelStr := levelColor.Sprintf("%-5s", level.String())
	fmt.Fprintf(l.out, "%s %s: %s", timestamp, levelStr, msg)
	if data != nil {
		fmt.Fprintf(l.out, " %+v", data)
	}
	fmt.Fprintln(l.out)
}

func (l *Logger) Debug(msg string, data ...interface{}) {
	l.log(DEBUG, msg, firstOrNil(data))
}

func (l *Logger) Info(msg string, data ...interface{}) {
	l.log(INFO, msg, firstOrNil(data))
}

func (l *Logger) Warn(msg string, data ...interface{}) {
	l.log(WARN, msg, firstOrNil(data))
}

func (l *Logger) Error(msg string, err error, data ...interface{}) {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	l.log(ERROR, msg, firstOrNil(data))
}

// firstOrNil returns the first element of data if present, nil otherwise
func firstOrNil(data []interface{}) interface{} {
	if len(data) > 0 {
		return data[0]
	}
	return nil
}

// DaemonStart logs daemon startup parameters
func (l *Logger) DaemonStart(maxWorkers, queueSize int, outputs []string) {
	data := map[string]interface{}{
		"max_workers": maxWorkers,
		"queue_size":  queueSize,
		"outputs":     outputs,
	}
	l.Info("Starting daemon", data)
}

// DaemonStop logs the daemon shutdown with final queue statistics
func (l *Logger) DaemonStop(enqueued, delivered, dropped uint64) {
	data := map[string]interface{}{
		"enqueued":  enqueued,
		"delivered": delivered,
		"dropped":   dropped,
	}
	l.Info("Daemon stopped", data)
}

// InputStart logs the start of an input module
func (l *Logger) InputStart(input, source string) {
	data := map[string]interface{}{
		"input":  input,
		"source": source,
	}
	l.Info("Starting input", data)
}

// OutputError logs a delivery failure of an output writer
func (l *Logger) OutputError(output string, err error) {
	data := map[string]interface{}{
		"output": output,
	}
	l.Error("Output delivery failed", err, data)
}

// Default logger methods
func Debug(msg string, data ...interface{}) {
	defaultLogger.Debug(msg, data...)
}

func Info(msg string, data ...interface{}) {
	defaultLogger.Info(msg, data...)
}

func Warn(msg string, data ...interface{}) {
	defaultLogger.Warn(msg, data...)
}

func Error(msg string, err error, data ...interface{}) {
	defaultLogger.Error(msg, err, data...)
}

func DaemonStart(maxWorkers, queueSize int, outputs []string) {
	defaultLogger.DaemonStart(maxWorkers, queueSize, outputs)
}

func DaemonStop(enqueued, delivered, dropped uint64) {
	defaultLogger.DaemonStop(enqueued, delivered, dropped)
}

func InputStart(input, source string) {
	defaultLogger.InputStart(input, source)
}

func OutputError(output string, err error) {
	defaultLogger.OutputError(output, err)
}

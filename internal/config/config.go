package config

import (
	"runtime"
	"time"
)

// GlobalConfig holds the global configuration for the daemon
type GlobalConfig struct {
	// MaxWorkers defines the maximum number of concurrent queue workers
	MaxWorkers int

	// QueueSize is the capacity of the main message queue
	QueueSize int

	// WorkerIdleTimeout is how long an idle worker waits for new work
	// before it winds itself down
	WorkerIdleTimeout time.Duration

	// ShutdownTimeout bounds the graceful drain on daemon shutdown
	ShutdownTimeout time.Duration

	// LogFormat is the format for logging
	LogFormat string

	// LogLevel is the level for logging
	LogLevel string

	// KlogPath is the kernel log device to read from
	KlogPath string

	// Outputs is the list of enabled output targets
	Outputs []string

	// OutputFile is the destination of the file output
	OutputFile string

	// Profile is the AWS profile used by the cloudwatch output
	Profile string

	// CloudWatchGroup is the log group of the cloudwatch output
	CloudWatchGroup string

	// CloudWatchStream is the log stream of the cloudwatch output
	CloudWatchStream string

	// CloudWatchRegion is the region of the cloudwatch output
	CloudWatchRegion string
}

// Config is the global configuration instance
var Config = &GlobalConfig{
	MaxWorkers:        runtime.NumCPU(),
	QueueSize:         10000,
	WorkerIdleTimeout: 2 * time.Second,
	ShutdownTimeout:   5 * time.Second,
	KlogPath:          "/proc/kmsg",
	Outputs:           []string{"console"},
	OutputFile:        "/var/log/messages",
	Profile:           "default",
}

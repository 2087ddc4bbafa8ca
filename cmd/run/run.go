package run

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daemon13/rsyslog/internal/config"
	"github.com/daemon13/rsyslog/internal/input/klog"
	"github.com/daemon13/rsyslog/internal/logging"
	"github.com/daemon13/rsyslog/internal/output"
	"github.com/daemon13/rsyslog/internal/queue"
)

// NewRunCmd creates and returns the run command
func NewRunCmd() *cobra.Command {
	var noInput bool
	var klogPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the syslog daemon",
		Long: `Run the daemon: read kernel log messages, queue them, and deliver
them to the configured output targets until interrupted.`,
		Example: `  # Run with the configured outputs
  rsyslogd run

  # Run against a different kernel log device
  rsyslogd run --klog-path /tmp/kmsg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The root command reloads KlogPath from the configuration after
			// flag parsing, so an explicit --klog-path is applied here.
			if cmd.Flags().Changed("klog-path") {
				config.Config.KlogPath = klogPath
			}
			return runDaemon(noInput)
		},
	}

	cmd.Flags().StringVar(&klogPath, "klog-path", config.Config.KlogPath, "Kernel log device to read from")
	cmd.Flags().BoolVar(&noInput, "no-input", false, "Do not start the kernel log input (no messages are read; the daemon idles until interrupted)")

	return cmd
}

// BuildWriters constructs the configured output targets.
func BuildWriters(cfg *config.GlobalConfig) ([]output.Writer, error) {
	var ws []output.Writer
	for _, name := range cfg.Outputs {
		switch name {
		case "console":
			ws = append(ws, output.NewConsole())
		case "file":
			w, err := output.NewFile(cfg.OutputFile)
			if err != nil {
				return nil, fmt.Errorf("failed to open output file: %w", err)
			}
			ws = append(ws, w)
		case "cloudwatch":
			if cfg.CloudWatchGroup == "" || cfg.CloudWatchStream == "" {
				return nil, fmt.Errorf("cloudwatch output requires a log group and stream")
			}
			w, err := output.NewCloudWatch(output.CloudWatchConfig{
				Group:   cfg.CloudWatchGroup,
				Stream:  cfg.CloudWatchStream,
				Region:  cfg.CloudWatchRegion,
				Profile: cfg.Profile,
			})
			if err != nil {
				return nil, err
			}
			ws = append(ws, w)
		default:
			return nil, fmt.Errorf("unknown output target %q", name)
		}
	}
	if len(ws) == 0 {
		return nil, fmt.Errorf("no output targets configured")
	}
	return ws, nil
}

func runDaemon(noInput bool) error {
	cfg := config.Config

	ws, err := BuildWriters(cfg)
	if err != nil {
		return err
	}
	fan := output.NewFanout(ws...)

	q, err := queue.New(queue.Config{
		Tag:             "main queue",
		Capacity:        cfg.QueueSize,
		MaxWorkers:      cfg.MaxWorkers,
		IdleTimeout:     cfg.WorkerIdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, fan.Deliver)
	if err != nil {
		return fmt.Errorf("failed to create main queue: %w", err)
	}

	var reader *klog.Reader
	if !noInput {
		reader = klog.New(cfg.KlogPath, q)
		if err := reader.Start(); err != nil {
			fan.Close()
			return fmt.Errorf("failed to start kernel log input: %w", err)
		}
	}

	logging.DaemonStart(cfg.MaxWorkers, cfg.QueueSize, cfg.Outputs)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logging.Info("Received signal, shutting down", map[string]interface{}{"signal": s.String()})

	if reader != nil {
		reader.Stop()
	}
	if err := q.Shutdown(cfg.ShutdownTimeout); err != nil {
		logging.Error("Queue did not drain cleanly", err)
	}
	if err := fan.Close(); err != nil {
		logging.Error("Output close failed", err)
	}

	enqueued, delivered, dropped, _ := q.Stats()
	logging.DaemonStop(enqueued, delivered, dropped)
	return nil
}

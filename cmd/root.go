package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/daemon13/rsyslog/cmd/list"
	"github.com/daemon13/rsyslog/cmd/replay"
	"github.com/daemon13/rsyslog/cmd/run"
	"github.com/daemon13/rsyslog/cmd/version"
	"github.com/daemon13/rsyslog/internal/config"
	"github.com/daemon13/rsyslog/internal/logging"
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	var (
		logLevel   string
		configFile string
	)

	// Initialize config
	if err := config.InitConfig(); err != nil {
		return err
	}

	// Create default config if it doesn't exist
	if err := config.CreateDefaultConfig(); err != nil {
		return err
	}

	rootCmd := &cobra.Command{
		Use:   "rsyslogd",
		Short: "rsyslogd - syslog message daemon",
		Long: `rsyslogd is a syslog-style message daemon. It reads kernel log
messages, queues them, and delivers them through a dynamically sized worker
fleet to the configured output targets.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so they take precedence over config file values
			if err := config.BindFlags(cmd.Root()); err != nil {
				return err
			}

			// Set config file if specified
			if configFile != "" {
				if err := config.SetConfigFile(configFile); err != nil {
					return err
				}
			}
			config.Apply()

			// Configure logging based on flags
			logFormat := logging.Text
			if config.Config.LogFormat == "json" {
				logFormat = logging.JSON
			}

			// Set log level: the --log-level flag when given, otherwise
			// the configured app.log_level
			levelName := logLevel
			if !cmd.Flags().Changed("log-level") && config.Config.LogLevel != "" {
				levelName = config.Config.LogLevel
			}
			var level logging.Level
			switch strings.ToUpper(levelName) {
			case "DEBUG":
				level = logging.DEBUG
			case "INFO":
				level = logging.INFO
			case "WARN":
				level = logging.WARN
			case "ERROR":
				level = logging.ERROR
			default:
				level = logging.INFO
			}

			// Configure logger
			logging.Configure(logging.LogConfig{
				Level:  level,
				Format: logFormat,
			})

			config.LogConfigurationSources(level == logging.DEBUG, cmd)
			return nil
		},
	}

	// Add global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().IntVar(&config.Config.MaxWorkers, "max-workers", config.Config.MaxWorkers, "Maximum number of concurrent queue workers")
	rootCmd.PersistentFlags().IntVar(&config.Config.QueueSize, "queue-size", config.Config.QueueSize, "Capacity of the main message queue")
	rootCmd.PersistentFlags().DurationVar(&config.Config.WorkerIdleTimeout, "worker-idle-timeout", config.Config.WorkerIdleTimeout, "Idle time before a worker winds down")
	rootCmd.PersistentFlags().DurationVar(&config.Config.ShutdownTimeout, "shutdown-timeout", config.Config.ShutdownTimeout, "Graceful drain deadline on shutdown")
	rootCmd.PersistentFlags().StringSliceVar(&config.Config.Outputs, "outputs", config.Config.Outputs, "Output targets (console, file, cloudwatch)")
	rootCmd.PersistentFlags().StringVar(&config.Config.OutputFile, "output-file", config.Config.OutputFile, "Destination of the file output target")
	rootCmd.PersistentFlags().StringVarP(&config.Config.Profile, "profile", "p", config.Config.Profile, "AWS profile for the cloudwatch target (supports SSO profiles)")
	rootCmd.PersistentFlags().StringVar(&config.Config.LogFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO",
		"Set logging level (DEBUG, INFO, WARN, ERROR)")

	// Add commands
	rootCmd.AddCommand(run.NewRunCmd())
	rootCmd.AddCommand(replay.NewReplayCmd())
	rootCmd.AddCommand(list.NewListCmd())
	rootCmd.AddCommand(version.NewVersionCmd())

	return rootCmd.Execute()
}

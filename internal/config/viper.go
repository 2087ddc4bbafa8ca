package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daemon13/rsyslog/internal/logging"
)

// InitConfig initializes the Viper configuration
func InitConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Config search paths: working dir, user dir, system dir
	viper.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".rsyslogd"))
	}
	viper.AddConfigPath("/etc/rsyslogd")

	viper.SetEnvPrefix("RSYSLOGD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Defaults for all configuration values
	viper.SetDefault("app.max_workers", runtime.NumCPU())
	viper.SetDefault("app.queue_size", 10000)
	viper.SetDefault("app.worker_idle_timeout", 2*time.Second)
	viper.SetDefault("app.shutdown_timeout", 5*time.Second)
	viper.SetDefault("app.log_format", "text")
	viper.SetDefault("app.log_level", "INFO")
	viper.SetDefault("input.klog_path", "/proc/kmsg")
	viper.SetDefault("output.targets", []string{"console"})
	viper.SetDefault("output.file", "/var/log/messages")
	viper.SetDefault("output.cloudwatch.profile", "default")
	viper.SetDefault("output.cloudwatch.group", "")
	viper.SetDefault("output.cloudwatch.stream", "")
	viper.SetDefault("output.cloudwatch.region", "")

	// Try to read config file but don't error if not found
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	Apply()
	return nil
}

// SetConfigFile sets a custom config file path and reloads the configuration
func SetConfigFile(configFile string) error {
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	Apply()
	return nil
}

// BindFlags wires the root command's persistent flags into viper, so the
// usual precedence holds: command line > environment > config file >
// default.
func BindFlags(cmd *cobra.Command) error {
	bindings := map[string]string{
		"app.max_workers":           "max-workers",
		"app.queue_size":            "queue-size",
		"app.worker_idle_timeout":   "worker-idle-timeout",
		"app.shutdown_timeout":      "shutdown-timeout",
		"app.log_format":            "log-format",
		"output.targets":            "outputs",
		"output.file":               "output-file",
		"output.cloudwatch.profile": "profile",
	}
	flags := cmd.PersistentFlags()
	for key, name := range bindings {
		if f := flags.Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply copies the resolved viper values onto the global instance.
func Apply() {
	Config.MaxWorkers = viper.GetInt("app.max_workers")
	Config.QueueSize = viper.GetInt("app.queue_size")
	Config.WorkerIdleTimeout = viper.GetDuration("app.worker_idle_timeout")
	Config.ShutdownTimeout = viper.GetDuration("app.shutdown_timeout")
	Config.LogFormat = viper.GetString("app.log_format")
	Config.LogLevel = viper.GetString("app.log_level")
	Config.KlogPath = viper.GetString("input.klog_path")
	Config.Outputs = viper.GetStringSlice("output.targets")
	Config.OutputFile = viper.GetString("output.file")
	Config.Profile = viper.GetString("output.cloudwatch.profile")
	Config.CloudWatchGroup = viper.GetString("output.cloudwatch.group")
	Config.CloudWatchStream = viper.GetString("output.cloudwatch.stream")
	Config.CloudWatchRegion = viper.GetString("output.cloudwatch.region")
}

// CreateDefaultConfig creates a default config file if it doesn't exist
func CreateDefaultConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("error getting home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".rsyslogd")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		defaultConfig := []byte(`# rsyslogd Configuration File

# Application Configuration
app:
  max_workers: 4  # Maximum number of concurrent queue workers
  queue_size: 10000  # Capacity of the main message queue
  worker_idle_timeout: 2s  # Idle time before a worker winds down
  shutdown_timeout: 5s  # Graceful drain deadline on shutdown
  log_format: text  # Log output format (text or json)
  log_level: INFO  # Set logging level (DEBUG, INFO, WARN, ERROR)

# Input Configuration
input:
  klog_path: /proc/kmsg  # Kernel log device

# Output Configuration
output:
  # Enabled targets (console, file, cloudwatch)
  targets:
    - console
  file: /var/log/messages  # Destination of the file target
  cloudwatch:
    profile: default  # AWS profile (supports SSO profiles)
    group: ""  # Log group name (required for cloudwatch target)
    stream: ""  # Log stream name (required for cloudwatch target)
    region: ""  # AWS region of the log group
`)
		if err := os.WriteFile(configPath, defaultConfig, 0644); err != nil {
			return fmt.Errorf("error writing default config file: %w", err)
		}
	}

	return nil
}

// parameterSource tracks where each parameter value came from
type parameterSource struct {
	Key    string
	Value  interface{}
	Source string
}

// getParameterSource determines where a parameter value came from (config
// file, env var, flag, or default)
func getParameterSource(key string, cmd *cobra.Command) parameterSource {
	value := viper.Get(key)
	envKey := "RSYSLOGD_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

	flagNames := map[string]string{
		"app.max_workers":           "max-workers",
		"app.queue_size":            "queue-size",
		"app.worker_idle_timeout":   "worker-idle-timeout",
		"app.shutdown_timeout":      "shutdown-timeout",
		"app.log_format":            "log-format",
		"app.log_level":             "log-level",
		"input.klog_path":           "klog-path",
		"output.targets":            "outputs",
		"output.file":               "output-file",
		"output.cloudwatch.profile": "profile",
	}

	flagName := flagNames[key]
	if flagName == "" {
		flagName = strings.Replace(key, ".", "-", -1)
	}

	if cmd != nil {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			return parameterSource{key, value, "command line flag"}
		}
		current := cmd
		for current != nil {
			if f := current.PersistentFlags().Lookup(flagName); f != nil && f.Changed {
				return parameterSource{key, value, "command line flag"}
			}
			current = current.Parent()
		}
	}

	if _, exists := os.LookupEnv(envKey); exists {
		return parameterSource{key, value, "environment variable"}
	}

	if viper.GetViper().InConfig(key) {
		return parameterSource{key, value, "config file"}
	}

	return parameterSource{key, value, "default value"}
}

// LogConfigurationSources logs the source of each configuration parameter
func LogConfigurationSources(shouldLog bool, cmd *cobra.Command) {
	if !shouldLog {
		return
	}

	logging.Debug("Configuration parameter sources:", nil)

	params := []string{
		"app.max_workers",
		"app.queue_size",
		"app.worker_idle_timeout",
		"app.shutdown_timeout",
		"app.log_format",
		"app.log_level",
		"input.klog_path",
		"output.targets",
		"output.file",
		"output.cloudwatch.profile",
		"output.cloudwatch.group",
		"output.cloudwatch.stream",
		"output.cloudwatch.region",
	}

	for _, param := range params {
		source := getParameterSource(param, cmd)
		logging.Debug(fmt.Sprintf("  %s = %v (from %s)", source.Key, source.Value, source.Source), nil)
	}
}

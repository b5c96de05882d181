package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ConnectTimeout  time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	defaultConfig := getEnv("GALAPAGOS_CONFIG", "configs/galapagos.yaml")
	fs.StringVar(&cfg.ConfigPath, "config", defaultConfig,
		"Path to configuration file, JSON or YAML (env: GALAPAGOS_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", defaultConfig,
		"Path to configuration file, JSON or YAML (env: GALAPAGOS_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("GALAPAGOS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: GALAPAGOS_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("GALAPAGOS_LOG_FORMAT", "json"),
		"Log format: json, text (env: GALAPAGOS_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("GALAPAGOS_DEBUG", false),
		"Shorthand for --log-level=debug (env: GALAPAGOS_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("GALAPAGOS_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: GALAPAGOS_SHUTDOWN_TIMEOUT)")

	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout",
		getEnvDuration("GALAPAGOS_CONNECT_TIMEOUT", 2*time.Minute),
		"Time allowed to connect all environments (env: GALAPAGOS_CONNECT_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.ShowHelp {
		fs.Usage()
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	if cfg.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid connect timeout: %s", cfg.ConnectTimeout)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - topic replication and permission synchronization

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with custom config
  %s --config=/etc/galapagos/config.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Override one environment's credentials
  export GALAPAGOS_ENV_PROD_TOKEN=...
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

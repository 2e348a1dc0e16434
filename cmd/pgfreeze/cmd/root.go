package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/pgfreeze/internal/config"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// Exit statuses. A deadline halt is reported distinctly from both full
// success and a fatal error.
const (
	exitFatal  = 1
	exitHalted = 2
)

// errHalted marks a run that stopped because the window deadline passed.
var errHalted = errors.New("run halted due to timeout")

// CLI flags that override config file values
var (
	cfgFile    string
	logLevel   string
	logFormat  string
	logFile    string
	timestamps bool
	debug      bool

	dbHost     string
	dbPort     int
	dbUser     string
	dbPassword string
	sslMode    string
)

var rootCmd = &cobra.Command{
	Use:   "pgfreeze",
	Short: "Window-aware PostgreSQL maintenance scheduler",
	Long: `pgfreeze runs VACUUM FREEZE or VACUUM ANALYZE passes against a
PostgreSQL cluster during a known slow-traffic period.

Given a time budget it selects the tables most in need of maintenance,
by transaction-ID age or dead-row ratio, vacuums them in priority order,
and stops cleanly before the window expires.

Features:
  - Freeze-priority and dead-row-ratio candidate selection
  - Global and per-database table exclusions
  - Cost-based throttling and optional lock/statement timeouts
  - Dry-run simulation and candidate preview`,
	Version: Version,
}

// Execute runs the root command. Exit status 2 marks a deadline halt,
// 1 any fatal error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errHalted) {
			os.Exit(exitHalted)
		}
		os.Exit(exitFatal)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Path to configuration file (optional)")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Redirect status output to a file (rotated)")
	rootCmd.PersistentFlags().BoolVarP(&timestamps, "print-timestamps", "t", false,
		"Prefix status lines with timestamps")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false,
		"Shorthand for --log-level debug")

	// Connection overrides
	rootCmd.PersistentFlags().StringVarP(&dbHost, "host", "H", "",
		"Database server host")
	rootCmd.PersistentFlags().IntVarP(&dbPort, "port", "p", 0,
		"Database server port")
	rootCmd.PersistentFlags().StringVarP(&dbUser, "user", "U", "",
		"Database user")
	rootCmd.PersistentFlags().StringVarP(&dbPassword, "password", "w", "",
		"Database password")
	rootCmd.PersistentFlags().StringVar(&sslMode, "sslmode", "",
		"SSL mode (disable, prefer, require)")
}

// loadConfig loads the config file when one is given, otherwise starts from
// defaults, then applies the persistent CLI overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}

	level := logLevel
	if debug && level == "" {
		level = "debug"
	}

	cfg.ApplyOverrides(config.Overrides{
		LogLevel:   level,
		LogFormat:  logFormat,
		LogOutput:  logFile,
		Timestamps: timestamps,
		Host:       dbHost,
		Port:       dbPort,
		User:       dbUser,
		Password:   dbPassword,
		SSLMode:    sslMode,
	})

	return cfg, nil
}

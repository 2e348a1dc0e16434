// Package config provides configuration structures and loading for pgfreeze.
package config

// Config represents the complete application configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection" mapstructure:"connection"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// ConnectionConfig represents a PostgreSQL cluster connection configuration.
// Database is chosen per target by the orchestrator; the name configured here
// is only used for database discovery.
type ConnectionConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"` // disable, prefer, require
}

// RunConfig represents the maintenance window and scheduling settings.
type RunConfig struct {
	Minutes          int      `yaml:"minutes" mapstructure:"minutes"`
	MinSizeMB        int      `yaml:"min_size_mb" mapstructure:"min_size_mb"`
	Databases        []string `yaml:"databases" mapstructure:"databases"`
	ExcludeTables    []string `yaml:"exclude_tables" mapstructure:"exclude_tables"`
	ExcludeScoped    []string `yaml:"exclude_scoped" mapstructure:"exclude_scoped"` // DATABASE.TABLE entries
	Vacuum           bool     `yaml:"vacuum" mapstructure:"vacuum"`                 // ratio-priority mode instead of freeze
	SkipAnalyze      bool     `yaml:"skip_analyze" mapstructure:"skip_analyze"`
	PauseSeconds     int      `yaml:"pause_seconds" mapstructure:"pause_seconds"`
	FreezeAge        int64    `yaml:"freeze_age" mapstructure:"freeze_age"`
	CostDelayMS      int      `yaml:"cost_delay_ms" mapstructure:"cost_delay_ms"`
	CostLimit        int      `yaml:"cost_limit" mapstructure:"cost_limit"`
	EnforceTime      bool     `yaml:"enforce_time" mapstructure:"enforce_time"`
	LockTimeoutMS    int      `yaml:"lock_timeout_ms" mapstructure:"lock_timeout_ms"` // 0 = no lock timeout
	Table            string   `yaml:"table" mapstructure:"table"`                     // single-table override
	DryRun           bool     `yaml:"dry_run" mapstructure:"dry_run"`
	Verbose          bool     `yaml:"verbose" mapstructure:"verbose"` // request server progress notices
	Force            bool     `yaml:"force" mapstructure:"force"`     // skip the advisory run lock
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`           // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"`         // json or text
	Output     string `yaml:"output" mapstructure:"output"`         // stdout, stderr, or file path
	Timestamps bool   `yaml:"timestamps" mapstructure:"timestamps"` // prefix console lines with timestamps
}

// DefaultConfig returns a Config with the documented default values.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "prefer",
		},
		Run: RunConfig{
			Minutes:      120,
			MinSizeMB:    0,
			PauseSeconds: 10,
			FreezeAge:    10000000,
			CostDelayMS:  20,
			CostLimit:    2000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// MinSizeBytes returns the minimum table size filter in bytes.
func (rc *RunConfig) MinSizeBytes() int64 {
	return int64(rc.MinSizeMB) * 1024 * 1024
}

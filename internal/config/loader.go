package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the specified file path.
// It supports YAML files and performs environment variable substitution.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal into config struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)

	return cfg, nil
}

// LoadFromViper creates a Config from an existing Viper instance.
// Useful for testing or when Viper is configured externally.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	substituteEnvVars(cfg)

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} or $VAR_NAME patterns
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Applied only to connection fields and the log output path, where credentials
// and deploy-specific paths usually live.
func substituteEnvVars(cfg *Config) {
	cfg.Connection.Host = expandEnvVar(cfg.Connection.Host)
	cfg.Connection.User = expandEnvVar(cfg.Connection.User)
	cfg.Connection.Password = expandEnvVar(cfg.Connection.Password)
	cfg.Logging.Output = expandEnvVar(cfg.Logging.Output)
}

// expandEnvVar expands environment variables in the format ${VAR} or $VAR.
func expandEnvVar(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Return original if env var not found
		return match
	})
}

// ApplyOverrides applies CLI flag overrides to the configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		c.Logging.Format = o.LogFormat
	}
	if o.LogOutput != "" {
		c.Logging.Output = o.LogOutput
	}
	if o.Timestamps {
		c.Logging.Timestamps = true
	}
	if o.Host != "" {
		c.Connection.Host = o.Host
	}
	if o.Port > 0 {
		c.Connection.Port = o.Port
	}
	if o.User != "" {
		c.Connection.User = o.User
	}
	if o.Password != "" {
		c.Connection.Password = o.Password
	}
	if o.SSLMode != "" {
		c.Connection.SSLMode = o.SSLMode
	}
}

// Overrides contains CLI flag values that override config file settings.
type Overrides struct {
	LogLevel   string
	LogFormat  string
	LogOutput  string
	Timestamps bool
	Host       string
	Port       int
	User       string
	Password   string
	SSLMode    string
}

package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
// Malformed database-scoped exclusions are a fatal input error per the
// documented startup taxonomy.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "connection.port",
			Message: fmt.Sprintf("must be between 1 and 65535, got %d", c.Connection.Port),
		})
	}

	if c.Run.Minutes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "run.minutes",
			Message: fmt.Sprintf("time budget must be positive, got %d", c.Run.Minutes),
		})
	}

	if c.Run.MinSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "run.min_size_mb",
			Message: "minimum table size cannot be negative",
		})
	}

	if c.Run.PauseSeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "run.pause_seconds",
			Message: "inter-operation pause cannot be negative",
		})
	}

	if c.Run.FreezeAge <= 0 {
		errs = append(errs, ValidationError{
			Field:   "run.freeze_age",
			Message: fmt.Sprintf("freeze age threshold must be positive, got %d", c.Run.FreezeAge),
		})
	}

	if c.Run.CostDelayMS < 0 {
		errs = append(errs, ValidationError{
			Field:   "run.cost_delay_ms",
			Message: "vacuum cost delay cannot be negative",
		})
	}

	if c.Run.CostLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "run.cost_limit",
			Message: fmt.Sprintf("vacuum cost limit must be positive, got %d", c.Run.CostLimit),
		})
	}

	if c.Run.LockTimeoutMS < 0 {
		errs = append(errs, ValidationError{
			Field:   "run.lock_timeout_ms",
			Message: "lock timeout cannot be negative",
		})
	}

	for _, entry := range c.Run.ExcludeScoped {
		if !strings.Contains(entry, ".") {
			errs = append(errs, ValidationError{
				Field:   "run.exclude_scoped",
				Message: fmt.Sprintf("%q is not in DATABASE.TABLE form", entry),
			})
		}
	}

	if c.Run.Vacuum && c.Run.SkipAnalyze {
		errs = append(errs, ValidationError{
			Field:   "run.skip_analyze",
			Message: "ratio-priority mode is analyze-driven; cannot combine with skip_analyze",
		})
	}

	switch c.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be json or text, got %q", c.Logging.Format),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

package freezer

import (
	"context"
	"database/sql"
	"fmt"
)

// SessionSettings are the throttling parameters applied to a database session
// before any candidate is processed. Cost delay and limit bound how
// aggressively the vacuums compete for I/O.
type SessionSettings struct {
	CostDelayMS int
	CostLimit   int
	Verbose     bool // have the server emit progress notices
}

// ConfigureSession applies the session-level runtime parameters. SET does not
// accept bind parameters, so the validated integer settings are formatted in
// directly. A failure here is fatal for the database: the throttling contract
// must be active before work starts.
func ConfigureSession(ctx context.Context, db *sql.DB, settings SessionSettings) error {
	statements := []string{
		fmt.Sprintf("SET vacuum_cost_delay = '%dms'", settings.CostDelayMS),
		fmt.Sprintf("SET vacuum_cost_limit = %d", settings.CostLimit),
	}
	if settings.Verbose {
		statements = append(statements, "SET client_min_messages = 'notice'")
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("session setup %q: %w", stmt, err)
		}
	}

	return nil
}

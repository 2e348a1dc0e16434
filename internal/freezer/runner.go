package freezer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/logger"
	"github.com/dbsmedya/pgfreeze/internal/sqlutil"
)

// sqlstateLockNotAvailable is the SQLSTATE the server reports when
// lock_timeout expires before a conflicting lock is granted.
const sqlstateLockNotAvailable = "55P03"

// timeoutGraceSeconds is added to the remaining window when deriving the
// enforced statement timeout, so a vacuum that is nearly done can finish
// slightly past the nominal deadline instead of being killed at exactly zero.
const timeoutGraceSeconds = 30

// Runner executes one maintenance operation at a time against a single
// database session, drains the notices it produced, and classifies the
// outcome.
type Runner struct {
	db      *sql.DB
	notices *database.NoticeCollector
	log     *logger.Logger
	pause   time.Duration
	sleep   func(ctx context.Context, d time.Duration)
}

// NewRunner creates a runner for one database connection. pause is the
// inter-operation delay that bounds steady-state load.
func NewRunner(db *sql.DB, notices *database.NoticeCollector, log *logger.Logger, pause time.Duration) *Runner {
	if log == nil {
		log = logger.NewDefault()
	}
	if notices == nil {
		notices = database.NewNoticeCollector()
	}
	return &Runner{
		db:      db,
		notices: notices,
		log:     log,
		pause:   pause,
		sleep:   sleepContext,
	}
}

// sleepContext pauses for d but returns early on context cancellation.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run executes the maintenance operation for one target. remainingSecs is the
// window budget left, consulted only when opts.EnforceTimeout is set.
//
// A lock timeout is a skip: the result reports StatusLockSkipped and the
// error is nil. Any other execution error is returned as-is and the caller
// must treat it as fatal to the whole run.
func (r *Runner) Run(ctx context.Context, target MaintenanceTarget, opts OperationOptions, remainingSecs int) (OperationResult, error) {
	result := OperationResult{Target: target}

	if opts.DryRun {
		result.Status = StatusSimulated
		r.log.Infow("dry-run: would vacuum table", "table", target.Table)
		return result, nil
	}

	start := time.Now()

	statementTimeoutMS := 0
	if opts.EnforceTimeout {
		statementTimeoutMS = (remainingSecs + timeoutGraceSeconds) * 1000
	}
	if _, err := r.db.ExecContext(ctx,
		fmt.Sprintf("SET statement_timeout = %d", statementTimeoutMS)); err != nil {
		return result, fmt.Errorf("set statement_timeout: %w", err)
	}

	if opts.LockTimeoutMS > 0 {
		if _, err := r.db.ExecContext(ctx,
			fmt.Sprintf("SET lock_timeout = %d", opts.LockTimeoutMS)); err != nil {
			return result, fmt.Errorf("set lock_timeout: %w", err)
		}
	}

	stmt := buildStatement(target.Table, opts)
	r.log.Debugw("executing maintenance statement", "statement", stmt)

	_, execErr := r.db.ExecContext(ctx, stmt)

	// Drain everything the server said during execution so the session is
	// clean for the next operation. The collector is bounded by what
	// actually arrived; no polling.
	result.Notices = r.notices.Drain()
	for _, notice := range result.Notices {
		r.log.Debugw("server notice", "table", target.Table, "notice", notice)
	}
	result.Duration = time.Since(start)

	if execErr != nil {
		if isLockTimeout(execErr) {
			result.Status = StatusLockSkipped
			r.log.Warnw("lock timeout, skipping table",
				"table", target.Table,
				"error", execErr,
			)
			r.sleep(ctx, r.pause)
			return result, nil
		}
		return result, fmt.Errorf("vacuum of %s failed: %w", target.Table, execErr)
	}

	result.Status = StatusCompleted
	r.log.Infow("table processed",
		"table", target.Table,
		"duration", result.Duration,
	)

	r.sleep(ctx, r.pause)
	return result, nil
}

// buildStatement assembles the maintenance statement for one quoted table.
func buildStatement(table string, opts OperationOptions) string {
	quoted := sqlutil.QuoteQualified(table)
	switch {
	case opts.SkipFreeze && opts.SkipAnalyze:
		return "VACUUM " + quoted
	case opts.SkipFreeze:
		return "VACUUM ANALYZE " + quoted
	case opts.SkipAnalyze:
		return "VACUUM FREEZE " + quoted
	default:
		return "VACUUM FREEZE ANALYZE " + quoted
	}
}

// isLockTimeout reports whether err is the server's lock-timeout abort.
func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == sqlstateLockNotAvailable
	}
	// Drivers used in tests surface plain errors; fall back to the
	// canonical server message.
	return strings.Contains(err.Error(), "lock timeout")
}

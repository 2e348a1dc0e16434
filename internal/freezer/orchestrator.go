package freezer

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dbsmedya/pgfreeze/internal/config"
	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/exclusion"
	"github.com/dbsmedya/pgfreeze/internal/logger"
)

// Connector opens a single-session connection to one database of the target
// cluster. Implemented by database.Manager; tests substitute fakes.
type Connector interface {
	Connect(ctx context.Context, dbName string) (*sql.DB, error)
}

// Orchestrator drives the nested database→table iteration: connect, throttle,
// select, filter, gate on the window, run. It is the single point deciding
// skip versus abort for every failure.
type Orchestrator struct {
	cfg       *config.RunConfig
	excl      *exclusion.Set
	connector Connector
	notices   *database.NoticeCollector
	log       *logger.Logger
	window    *WindowState
}

// NewOrchestrator creates an orchestrator for one maintenance run. The window
// deadline is fixed here, before any connection is made.
func NewOrchestrator(cfg *config.RunConfig, excl *exclusion.Set, connector Connector, notices *database.NoticeCollector, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Orchestrator{
		cfg:       cfg,
		excl:      excl,
		connector: connector,
		notices:   notices,
		log:       log,
		window:    NewWindow(time.Duration(cfg.Minutes) * time.Minute),
	}
}

// Window returns the run's window state. Exposed for tests and status output.
func (o *Orchestrator) Window() *WindowState {
	return o.window
}

// SetWindow replaces the window state. Tests use this to pin the deadline.
func (o *Orchestrator) SetWindow(w *WindowState) {
	o.window = w
}

// Mode returns the candidate prioritization mode for this run.
func (o *Orchestrator) Mode() Mode {
	if o.cfg.Vacuum {
		return ModeRatio
	}
	return ModeFreeze
}

// operationOptions derives the per-operation flags from the run config.
func (o *Orchestrator) operationOptions() OperationOptions {
	return OperationOptions{
		SkipFreeze:     o.cfg.Vacuum,
		SkipAnalyze:    o.cfg.SkipAnalyze,
		LockTimeoutMS:  o.cfg.LockTimeoutMS,
		EnforceTimeout: o.cfg.EnforceTime,
		DryRun:         o.cfg.DryRun,
	}
}

// Run iterates the target databases in order. A database-level failure is
// reported and skipped; a non-lock-timeout operation error aborts the whole
// run with a non-nil error. The returned RunResult is valid in either case.
func (o *Orchestrator) Run(ctx context.Context, databases []string) (*RunResult, error) {
	result := &RunResult{StartedAt: time.Now()}
	mode := o.Mode()
	opts := o.operationOptions()

	o.log.Infow("maintenance run starting",
		"mode", mode.String(),
		"databases", len(databases),
		"halt_time", o.window.HaltTime(),
		"dry_run", opts.DryRun,
	)

	var fatal error
	for _, dbName := range databases {
		if result.Halted || result.Cancelled {
			break
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if o.window.ShouldHalt() {
			result.Halted = true
			break
		}

		if err := o.processDatabase(ctx, dbName, mode, opts, result); err != nil {
			fatal = err
			break
		}
	}

	result.DatabasesProcessed = o.window.DatabasesProcessed
	result.TablesProcessed = o.window.TablesProcessed
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)

	o.logOutcome(result, fatal)
	return result, fatal
}

// processDatabase handles one database visit. Connection, session setup,
// selection, and override failures are database-skips and return nil; only a
// run-fatal operation error is returned.
func (o *Orchestrator) processDatabase(ctx context.Context, dbName string, mode Mode, opts OperationOptions, result *RunResult) error {
	dblog := o.log.WithDatabase(dbName)
	dblog.Debug("working on database")

	db, err := o.connector.Connect(ctx, dbName)
	if err != nil {
		dblog.Warnw("connection failed, skipping database", "error", err)
		return nil
	}
	defer db.Close()

	settings := SessionSettings{
		CostDelayMS: o.cfg.CostDelayMS,
		CostLimit:   o.cfg.CostLimit,
		Verbose:     o.cfg.Verbose,
	}
	if err := ConfigureSession(ctx, db, settings); err != nil {
		dblog.Warnw("session setup failed, skipping database", "error", err)
		return nil
	}

	selector := NewSelector(db, dblog)
	candidates, err := selector.SelectCandidates(ctx, mode, o.cfg.MinSizeBytes(), o.cfg.FreezeAge)
	if err != nil {
		dblog.Warnw("candidate selection failed, skipping database", "error", err)
		return nil
	}

	if o.cfg.Table != "" {
		candidates = o.filterExcluded(dbName, candidates, dblog)
		target, err := ResolveOverride(candidates, o.cfg.Table)
		if err != nil {
			dblog.Warnw("skipping database", "table", o.cfg.Table, "error", err)
			result.Skips = append(result.Skips, TableSkip{
				Database: dbName,
				Table:    o.cfg.Table,
				Reason:   "not found or excluded",
			})
			return nil
		}
		candidates = []MaintenanceTarget{target}
	}

	o.window.DatabasesProcessed++
	runner := NewRunner(db, o.notices, dblog, time.Duration(o.cfg.PauseSeconds)*time.Second)

	for _, candidate := range candidates {
		if o.excl.IsExcluded(dbName, candidate.Table) {
			dblog.Debugw("table excluded", "table", candidate.Table)
			continue
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			return nil
		}
		if o.window.ShouldHalt() {
			dblog.Info("reached time limit; halting")
			result.Halted = true
			return nil
		}

		opResult, err := runner.Run(ctx, candidate, opts, o.window.RemainingSeconds())
		if err != nil {
			// Deliberately conservative: an unexpected vacuum failure
			// aborts the whole run, not just this table.
			return err
		}

		switch opResult.Status {
		case StatusLockSkipped:
			result.Skips = append(result.Skips, TableSkip{
				Database: dbName,
				Table:    candidate.Table,
				Reason:   "lock timeout",
			})
		default:
			o.window.TablesProcessed++
		}
	}

	return nil
}

// filterExcluded removes excluded candidates. Used only to resolve the
// single-table override against the filtered set; the main loop filters
// per-candidate during iteration.
func (o *Orchestrator) filterExcluded(dbName string, candidates []MaintenanceTarget, dblog *logger.Logger) []MaintenanceTarget {
	filtered := candidates[:0]
	for _, c := range candidates {
		if o.excl.IsExcluded(dbName, c.Table) {
			dblog.Debugw("table excluded", "table", c.Table)
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered
}

// logOutcome emits the final status line for the run.
func (o *Orchestrator) logOutcome(result *RunResult, fatal error) {
	switch {
	case fatal != nil:
		o.log.Errorw("maintenance run aborted",
			"error", fatal,
			"tables", result.TablesProcessed,
			"databases", result.DatabasesProcessed,
		)
	case result.Cancelled:
		o.log.Warnw("maintenance run cancelled",
			"tables", result.TablesProcessed,
			"databases", result.DatabasesProcessed,
		)
	case result.Halted:
		o.log.Infow("vacuuming halted due to timeout",
			"tables", result.TablesProcessed,
			"databases", result.DatabasesProcessed,
		)
	default:
		o.log.Infow("all tables vacuumed",
			"tables", result.TablesProcessed,
			"databases", result.DatabasesProcessed,
		)
	}
}

// IsTableNotFound reports whether err is the single-table override miss.
func IsTableNotFound(err error) bool {
	return errors.Is(err, ErrTableNotFound)
}

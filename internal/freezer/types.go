// Package freezer implements the window-aware maintenance scheduling core of
// pgfreeze: candidate selection, session throttling, vacuum execution, and the
// halt-time budget that bounds a run.
package freezer

import (
	"time"
)

// Mode selects how maintenance candidates are prioritized.
type Mode int

const (
	// ModeFreeze orders candidates by transaction-ID age, prioritizing
	// tables at risk of wraparound. The default.
	ModeFreeze Mode = iota

	// ModeRatio orders candidates by dead-row fraction, prioritizing
	// tables with reclaimable bloat.
	ModeRatio
)

func (m Mode) String() string {
	switch m {
	case ModeRatio:
		return "ratio"
	default:
		return "freeze"
	}
}

// MaintenanceTarget identifies one candidate vacuum operation within a
// database snapshot. Produced fresh by the selector on each database visit,
// never mutated.
type MaintenanceTarget struct {
	Table        string  // schema-qualified relation name
	FreezeAge    int64   // age(relfrozenxid), freeze mode only
	DeadFraction float64 // dead/(dead+live) in [0,1], ratio mode only
	SizeBytes    int64
}

// Metric returns the priority value used for ordering in the given mode.
func (t MaintenanceTarget) Metric(mode Mode) float64 {
	if mode == ModeRatio {
		return t.DeadFraction
	}
	return float64(t.FreezeAge)
}

// OperationOptions controls how the runner executes one vacuum.
type OperationOptions struct {
	SkipFreeze     bool // plain VACUUM ANALYZE instead of VACUUM FREEZE
	SkipAnalyze    bool // omit the ANALYZE step
	LockTimeoutMS  int  // 0 = wait indefinitely for conflicting locks
	EnforceTimeout bool // bound each statement by the remaining window
	DryRun         bool // simulate without touching the connection
}

// OperationStatus classifies the outcome of one vacuum attempt.
type OperationStatus int

const (
	// StatusCompleted means the maintenance statement finished.
	StatusCompleted OperationStatus = iota

	// StatusSimulated means dry-run mode reported success without
	// issuing the statement.
	StatusSimulated

	// StatusLockSkipped means the operation aborted on a lock timeout
	// and the table was skipped. Not fatal.
	StatusLockSkipped
)

func (s OperationStatus) String() string {
	switch s {
	case StatusSimulated:
		return "simulated"
	case StatusLockSkipped:
		return "lock-skipped"
	default:
		return "completed"
	}
}

// OperationResult records one vacuum attempt.
type OperationResult struct {
	Target   MaintenanceTarget
	Status   OperationStatus
	Notices  []string // server notices drained after execution
	Duration time.Duration
}

// TableSkip records a table that was passed over without a fatal outcome.
type TableSkip struct {
	Database string
	Table    string
	Reason   string
}

// DatabaseInfo describes one discovered target database.
type DatabaseInfo struct {
	Name         string
	FrozenXIDAge int64
}

// RunResult is the terminal record of a maintenance run.
type RunResult struct {
	StartedAt          time.Time
	CompletedAt        time.Time
	Duration           time.Duration
	DatabasesProcessed int
	TablesProcessed    int
	Skips              []TableSkip
	Halted             bool // window deadline reached before all candidates
	Cancelled          bool // operator-initiated shutdown
}

// Completed reports whether every candidate was processed.
func (r *RunResult) Completed() bool {
	return !r.Halted && !r.Cancelled
}

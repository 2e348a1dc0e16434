package freezer

import "time"

// WindowState is the scheduling core's only persistent state: the absolute
// halt deadline fixed at startup plus the cumulative progress counters. The
// deadline is never recomputed, so the halt decision stays a pure comparison
// regardless of how much time completed operations consumed.
type WindowState struct {
	haltTime time.Time
	timedOut bool
	now      func() time.Time

	TablesProcessed    int
	DatabasesProcessed int
}

// NewWindow creates a WindowState whose deadline is now plus the budget.
func NewWindow(budget time.Duration) *WindowState {
	return NewWindowAt(time.Now().Add(budget), time.Now)
}

// NewWindowAt creates a WindowState with an explicit deadline and clock.
func NewWindowAt(haltTime time.Time, clock func() time.Time) *WindowState {
	if clock == nil {
		clock = time.Now
	}
	return &WindowState{
		haltTime: haltTime,
		now:      clock,
	}
}

// ShouldHalt reports whether the deadline has passed, latching the timed-out
// flag on the first true answer. Checked immediately before each candidate is
// dispatched; once latched, no further operation may start.
func (w *WindowState) ShouldHalt() bool {
	if w.timedOut {
		return true
	}
	if !w.now().Before(w.haltTime) {
		w.timedOut = true
	}
	return w.timedOut
}

// TimedOut reports whether a halt decision has been made.
func (w *WindowState) TimedOut() bool {
	return w.timedOut
}

// RemainingSeconds returns the whole seconds left in the window, never
// negative. Used only when time enforcement is on, to derive the
// per-operation statement timeout.
func (w *WindowState) RemainingSeconds() int {
	remaining := w.haltTime.Sub(w.now())
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Second)
}

// HaltTime returns the absolute deadline.
func (w *WindowState) HaltTime() time.Time {
	return w.haltTime
}

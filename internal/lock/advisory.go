// Package lock provides PostgreSQL advisory locking for pgfreeze.
//
// A maintenance run takes a session-scoped advisory lock on the discovery
// connection so two pgfreeze instances cannot run against the same cluster at
// once. Overlapping runs would double the vacuum load the cost delay/limit
// throttling is meant to bound.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
)

// ErrLockHeld is returned when another pgfreeze instance holds the run lock.
var ErrLockHeld = errors.New("run lock held by another instance")

// lockNamespace distinguishes pgfreeze locks from other advisory lock users
// in pg_locks (classid column of the two-key form).
const lockNamespace = 0x70676672 // "pgfr"

// RunLock represents a session-level advisory lock identifying one pgfreeze
// run per cluster. The lock lives on the session that acquired it and is
// released on explicit Release or when the connection closes.
type RunLock struct {
	db   *sql.DB
	name string
	key  int32
	held bool
}

// NewRunLock creates a run lock keyed by the given name. The name is hashed
// to the 32-bit key space pg_try_advisory_lock(int, int) expects.
func NewRunLock(db *sql.DB, name string) *RunLock {
	return &RunLock{
		db:   db,
		name: name,
		key:  hashKey(name),
	}
}

// hashKey maps a lock name onto an int32 advisory lock key.
func hashKey(name string) int32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int32(h.Sum32())
}

// TryAcquire attempts to take the advisory lock without waiting.
// Returns true if acquired, false if another session holds it.
func (l *RunLock) TryAcquire(ctx context.Context) (bool, error) {
	if l.held {
		return true, nil
	}

	var acquired bool
	err := l.db.QueryRowContext(ctx,
		"SELECT pg_try_advisory_lock($1, $2)", lockNamespace, l.key).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
	}

	l.held = acquired
	return acquired, nil
}

// AcquireOrFail takes the lock or returns ErrLockHeld when another instance
// is already running.
func (l *RunLock) AcquireOrFail(ctx context.Context) error {
	acquired, err := l.TryAcquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q", ErrLockHeld, l.name)
	}
	return nil
}

// Release releases the advisory lock. Returns true if the lock was released,
// false if this session did not hold it.
func (l *RunLock) Release(ctx context.Context) (bool, error) {
	if !l.held {
		return false, nil
	}

	var released bool
	err := l.db.QueryRowContext(ctx,
		"SELECT pg_advisory_unlock($1, $2)", lockNamespace, l.key).Scan(&released)
	if err != nil {
		return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
	}

	l.held = false
	return released, nil
}

// IsHeld returns true if this instance currently holds the lock.
func (l *RunLock) IsHeld() bool {
	return l.held
}

// Name returns the lock name.
func (l *RunLock) Name() string {
	return l.name
}

package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLock_TryAcquire(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewRunLock(db, "pgfreeze:run")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1, \$2\)`).
		WithArgs(int64(lockNamespace), l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	acquired, err := l.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	// Already held: no second query issued.
	acquired, err = l.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, acquired)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLock_AcquireOrFail_Held(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewRunLock(db, "pgfreeze:run")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1, \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	err = l.AcquireOrFail(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockHeld))
	assert.False(t, l.IsHeld())
}

func TestRunLock_AcquireQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewRunLock(db, "pgfreeze:run")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1, \$2\)`).
		WillReturnError(fmt.Errorf("connection reset"))

	_, err = l.TryAcquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_try_advisory_lock")
}

func TestRunLock_Release(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewRunLock(db, "pgfreeze:run")

	// Releasing an unheld lock is a no-op.
	released, err := l.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, released)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1, \$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1, \$2\)`).
		WithArgs(int64(lockNamespace), l.key).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	require.NoError(t, l.AcquireOrFail(context.Background()))
	released, err = l.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHashKey_Stable(t *testing.T) {
	// Same name always maps to the same advisory key across instances.
	assert.Equal(t, hashKey("pgfreeze:run"), hashKey("pgfreeze:run"))
	assert.NotEqual(t, hashKey("pgfreeze:run"), hashKey("other"))
}

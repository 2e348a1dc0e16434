package freezer

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/pgfreeze/internal/config"
	"github.com/dbsmedya/pgfreeze/internal/database"
	"github.com/dbsmedya/pgfreeze/internal/exclusion"
)

// fakeConnector hands out one prepared sqlmock connection per database and
// fails the databases listed in errs.
type fakeConnector struct {
	dbs  map[string]*sql.DB
	errs map[string]error
}

func (f *fakeConnector) Connect(ctx context.Context, dbName string) (*sql.DB, error) {
	if err, ok := f.errs[dbName]; ok {
		return nil, err
	}
	db, ok := f.dbs[dbName]
	if !ok {
		return nil, fmt.Errorf("unexpected database %q", dbName)
	}
	return db, nil
}

func testRunConfig() *config.RunConfig {
	return &config.RunConfig{
		Minutes:      120,
		FreezeAge:    10000000,
		CostDelayMS:  20,
		CostLimit:    2000,
		PauseSeconds: 0,
	}
}

func mustExclusions(t *testing.T, global, scoped []string) *exclusion.Set {
	t.Helper()
	s, err := exclusion.New(global, scoped)
	require.NoError(t, err)
	return s
}

// expectSession registers the session setup statements for one database visit.
func expectSession(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SET vacuum_cost_delay = '20ms'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SET vacuum_cost_limit = 2000`).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// expectFreezeCandidates registers the freeze-priority selection query
// returning the given (table, age, bytes) rows.
func expectFreezeCandidates(mock sqlmock.Sqlmock, rows [][3]interface{}) {
	result := sqlmock.NewRows([]string{"full_table_name", "freeze_age", "table_bytes"})
	for _, r := range rows {
		result.AddRow(r[0], r[1], r[2])
	}
	mock.ExpectQuery("WITH tabfreeze").WillReturnRows(result)
}

// expectVacuum registers one successful vacuum of the quoted table.
func expectVacuum(mock sqlmock.Sqlmock, quoted string) {
	mock.ExpectExec(`SET statement_timeout = 0`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("VACUUM FREEZE ANALYZE " + quoted)).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestOrchestrator_FailedDatabaseIsSkipped(t *testing.T) {
	// d1 has one table over the freeze threshold; d2's connection fails.
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.t1", int64(20000000), int64(1 << 30)},
	})
	expectVacuum(mock1, `"public"."t1"`)

	connector := &fakeConnector{
		dbs:  map[string]*sql.DB{"d1": d1},
		errs: map[string]error{"d2": fmt.Errorf("connection refused")},
	}

	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1", "d2"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DatabasesProcessed)
	assert.Equal(t, 1, result.TablesProcessed)
	assert.False(t, result.Halted)
	assert.Empty(t, result.Skips)
	assert.True(t, result.Completed())

	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_PastDeadlineDispatchesNothing(t *testing.T) {
	connector := &fakeConnector{} // any connection attempt would error

	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	now := time.Now()
	orch.SetWindow(NewWindowAt(now.Add(-time.Minute), func() time.Time { return now }))

	result, err := orch.Run(context.Background(), []string{"d1", "d2"})
	require.NoError(t, err)

	assert.True(t, result.Halted)
	assert.Equal(t, 0, result.TablesProcessed)
	assert.Equal(t, 0, result.DatabasesProcessed)
}

func TestOrchestrator_GlobalExclusionNeverDispatched(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.audit_log", int64(30000000), int64(2 << 30)},
		{"public.orders", int64(20000000), int64(1 << 30)},
	})
	// Only orders is vacuumed.
	expectVacuum(mock1, `"public"."orders"`)

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, []string{"audit_log"}, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TablesProcessed)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_ScopedExclusionOnlyAffectsItsDatabase(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()
	d2, mock2, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d2.Close() }()

	// sessions is excluded in d1 only.
	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.sessions", int64(20000000), int64(1 << 30)},
	})

	expectSession(mock2)
	expectFreezeCandidates(mock2, [][3]interface{}{
		{"public.sessions", int64(20000000), int64(1 << 30)},
	})
	expectVacuum(mock2, `"public"."sessions"`)

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1, "d2": d2}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, []string{"d1.sessions"}),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1", "d2"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TablesProcessed)
	assert.Equal(t, 2, result.DatabasesProcessed)
	assert.NoError(t, mock1.ExpectationsWereMet())
	assert.NoError(t, mock2.ExpectationsWereMet())
}

func TestOrchestrator_LockSkipContinuesToNextTable(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.a", int64(30000000), int64(2 << 30)},
		{"public.b", int64(20000000), int64(1 << 30)},
	})

	// a hits a lock timeout, b is still attempted.
	mock1.ExpectExec(`SET statement_timeout = 0`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock1.ExpectExec(regexp.QuoteMeta(`VACUUM FREEZE ANALYZE "public"."a"`)).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	expectVacuum(mock1, `"public"."b"`)

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TablesProcessed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, "public.a", result.Skips[0].Table)
	assert.Equal(t, "lock timeout", result.Skips[0].Reason)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_OtherErrorAbortsRun(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.a", int64(30000000), int64(2 << 30)},
		{"public.b", int64(20000000), int64(1 << 30)},
	})

	mock1.ExpectExec(`SET statement_timeout = 0`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock1.ExpectExec(regexp.QuoteMeta(`VACUUM FREEZE ANALYZE "public"."a"`)).
		WillReturnError(&pq.Error{Code: "XX001", Message: "data corrupted"})

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})

	// b was never attempted; the unmet-expectation check would fail if it had been.
	require.Error(t, err)
	assert.Equal(t, 0, result.TablesProcessed)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_SelectionErrorSkipsDatabaseOnly(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()
	d2, mock2, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d2.Close() }()

	expectSession(mock1)
	mock1.ExpectQuery("WITH tabfreeze").
		WillReturnError(fmt.Errorf("permission denied"))

	expectSession(mock2)
	expectFreezeCandidates(mock2, [][3]interface{}{
		{"public.t", int64(20000000), int64(1 << 30)},
	})
	expectVacuum(mock2, `"public"."t"`)

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1, "d2": d2}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1", "d2"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.DatabasesProcessed)
	assert.Equal(t, 1, result.TablesProcessed)
}

func TestOrchestrator_OverrideNotFoundSkipsDatabase(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.t1", int64(20000000), int64(1 << 30)},
	})
	// No vacuum expected: t3 is not in the candidate set.

	cfg := testRunConfig()
	cfg.Table = "t3"

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(cfg, mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	assert.Equal(t, 0, result.TablesProcessed)
	assert.Equal(t, 0, result.DatabasesProcessed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, "not found or excluded", result.Skips[0].Reason)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_OverrideExcludedSkipsDatabase(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.t1", int64(20000000), int64(1 << 30)},
	})

	cfg := testRunConfig()
	cfg.Table = "t1"

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(cfg, mustExclusions(t, []string{"t1"}, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	// The override resolves against the filtered candidate set.
	assert.Equal(t, 0, result.TablesProcessed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, "not found or excluded", result.Skips[0].Reason)
}

func TestOrchestrator_DryRunCountsWithoutVacuuming(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.t1", int64(20000000), int64(1 << 30)},
		{"public.t2", int64(15000000), int64(1 << 20)},
	})
	// No SET statement_timeout, no VACUUM.

	cfg := testRunConfig()
	cfg.DryRun = true

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(cfg, mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TablesProcessed)
	assert.Equal(t, 1, result.DatabasesProcessed)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_CancelledBeforeStart(t *testing.T) {
	connector := &fakeConnector{}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := orch.Run(ctx, []string{"d1"})
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.TablesProcessed)
}

func TestOrchestrator_HaltBetweenTables(t *testing.T) {
	d1, mock1, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = d1.Close() }()

	expectSession(mock1)
	expectFreezeCandidates(mock1, [][3]interface{}{
		{"public.t1", int64(30000000), int64(2 << 30)},
		{"public.t2", int64(20000000), int64(1 << 30)},
	})
	expectVacuum(mock1, `"public"."t1"`)
	// t2 is never dispatched.

	connector := &fakeConnector{dbs: map[string]*sql.DB{"d1": d1}}
	orch := NewOrchestrator(testRunConfig(), mustExclusions(t, nil, nil),
		connector, database.NewNoticeCollector(), nil)

	// The clock is consulted once before the database visit, then twice while
	// dispatching t1 (halt check + remaining budget). The fourth reading, t2's
	// halt check, lands past the deadline.
	calls := 0
	start := time.Now()
	orch.SetWindow(NewWindowAt(start.Add(time.Hour), func() time.Time {
		calls++
		if calls > 3 {
			return start.Add(2 * time.Hour)
		}
		return start
	}))

	result, err := orch.Run(context.Background(), []string{"d1"})
	require.NoError(t, err)

	assert.True(t, result.Halted)
	assert.Equal(t, 1, result.TablesProcessed)
	assert.NoError(t, mock1.ExpectationsWereMet())
}

func TestOrchestrator_Mode(t *testing.T) {
	cfg := testRunConfig()
	orch := NewOrchestrator(cfg, mustExclusions(t, nil, nil), &fakeConnector{}, nil, nil)
	assert.Equal(t, ModeFreeze, orch.Mode())

	cfg.Vacuum = true
	assert.Equal(t, ModeRatio, orch.Mode())
}

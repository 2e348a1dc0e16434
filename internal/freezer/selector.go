package freezer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/dbsmedya/pgfreeze/internal/logger"
	"github.com/dbsmedya/pgfreeze/internal/sqlutil"
)

// ErrTableNotFound is returned when a single-table override names a table
// that is absent from the candidate set.
var ErrTableNotFound = errors.New("table not found or excluded")

// candidateLimit bounds one database visit to a manageable batch; remaining
// candidates are picked up by the next invocation's fresh query.
const candidateLimit = 1000

// freezeCandidateQuery selects ordinary tables whose transaction-ID age
// exceeds the threshold ($1) and whose total size meets the floor ($2).
// The age is the greater of the table's own and its TOAST table's, since
// large historical values can hide an old relfrozenxid in the side relation.
const freezeCandidateQuery = `
WITH tabfreeze AS (
    SELECT pg_class.oid::regclass::text AS full_table_name,
        greatest(age(pg_class.relfrozenxid), age(toast.relfrozenxid)) AS freeze_age,
        pg_total_relation_size(pg_class.oid) AS table_bytes
    FROM pg_class
        JOIN pg_namespace ON pg_class.relnamespace = pg_namespace.oid
        LEFT OUTER JOIN pg_class AS toast
            ON pg_class.reltoastrelid = toast.oid
    WHERE nspname NOT IN ('pg_catalog', 'information_schema')
        AND nspname NOT LIKE 'pg_temp%'
        AND pg_class.relkind = 'r'
)
SELECT full_table_name, freeze_age, table_bytes
FROM tabfreeze
WHERE freeze_age > $1
    AND table_bytes >= $2
ORDER BY freeze_age DESC, table_bytes DESC
LIMIT 1000`

// ratioCandidateQuery selects user tables with more than 100 dead rows, a
// dead-row fraction above 5%, no vacuum or analyze of any kind within the
// last hour, and a total size meeting the floor ($1). The fraction is
// NULL-safe when a table reports zero live and zero dead rows.
const ratioCandidateQuery = `
WITH deadrow_tables AS (
    SELECT relid::regclass::text AS full_table_name,
        n_dead_tup::numeric / nullif(n_live_tup + n_dead_tup, 0) AS dead_fraction,
        pg_total_relation_size(relid) AS table_bytes
    FROM pg_stat_user_tables
    WHERE n_dead_tup > 100
        AND coalesce(greatest(last_vacuum, last_autovacuum, last_analyze, last_autoanalyze),
            'epoch'::timestamptz) < now() - interval '1 hour'
)
SELECT full_table_name, dead_fraction, table_bytes
FROM deadrow_tables
WHERE dead_fraction > 0.05
    AND table_bytes >= $1
ORDER BY dead_fraction DESC, table_bytes DESC`

// discoverDatabasesQuery lists non-system databases most wraparound-exposed
// first, so a halted run has already covered the riskiest ones.
const discoverDatabasesQuery = `
SELECT datname, age(datfrozenxid) AS freeze_age
FROM pg_database
WHERE datname NOT IN ('postgres', 'template0', 'template1')
ORDER BY age(datfrozenxid) DESC`

// Selector builds the prioritized list of maintenance candidates for one
// database connection.
type Selector struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSelector creates a selector bound to an open database connection.
func NewSelector(db *sql.DB, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Selector{db: db, log: log}
}

// SelectCandidates returns maintenance candidates in strict priority order.
// A query error propagates: table metadata is prerequisite to any work in
// this database, so the caller skips the database entirely.
func (s *Selector) SelectCandidates(ctx context.Context, mode Mode, minSizeBytes int64, freezeAgeThreshold int64) ([]MaintenanceTarget, error) {
	var rows *sql.Rows
	var err error

	switch mode {
	case ModeRatio:
		rows, err = s.db.QueryContext(ctx, ratioCandidateQuery, minSizeBytes)
	default:
		rows, err = s.db.QueryContext(ctx, freezeCandidateQuery, freezeAgeThreshold, minSizeBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("candidate query (%s mode): %w", mode, err)
	}
	defer rows.Close()

	var targets []MaintenanceTarget
	for rows.Next() {
		var t MaintenanceTarget
		switch mode {
		case ModeRatio:
			err = rows.Scan(&t.Table, &t.DeadFraction, &t.SizeBytes)
		default:
			err = rows.Scan(&t.Table, &t.FreezeAge, &t.SizeBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candidate rows: %w", err)
	}

	// The server already orders the result; re-sorting keeps the priority
	// contract independent of what actually came back.
	SortTargets(targets, mode)

	if len(targets) > candidateLimit {
		targets = targets[:candidateLimit]
	}

	s.log.Debugw("candidate selection complete",
		"mode", mode.String(),
		"candidates", len(targets),
	)

	return targets, nil
}

// SortTargets orders targets descending by priority metric, with size as the
// tiebreak. Stable so equal rows keep their arrival order.
func SortTargets(targets []MaintenanceTarget, mode Mode) {
	sort.SliceStable(targets, func(i, j int) bool {
		mi, mj := targets[i].Metric(mode), targets[j].Metric(mode)
		if mi != mj {
			return mi > mj
		}
		return targets[i].SizeBytes > targets[j].SizeBytes
	})
}

// ResolveOverride narrows candidates to the single named table. The override
// may be given bare or schema-qualified. ErrTableNotFound is returned when
// the table is absent from the candidate set.
func ResolveOverride(targets []MaintenanceTarget, table string) (MaintenanceTarget, error) {
	for _, t := range targets {
		if t.Table == table || sqlutil.BareRelation(t.Table) == table {
			return t, nil
		}
	}
	return MaintenanceTarget{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
}

// DiscoverDatabases lists target databases ordered by wraparound exposure.
// Used when no explicit database list is configured.
func DiscoverDatabases(ctx context.Context, db *sql.DB) ([]DatabaseInfo, error) {
	rows, err := db.QueryContext(ctx, discoverDatabasesQuery)
	if err != nil {
		return nil, fmt.Errorf("database discovery query: %w", err)
	}
	defer rows.Close()

	var infos []DatabaseInfo
	for rows.Next() {
		var info DatabaseInfo
		if err := rows.Scan(&info.Name, &info.FrozenXIDAge); err != nil {
			return nil, fmt.Errorf("scan database row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read database rows: %w", err)
	}

	return infos, nil
}

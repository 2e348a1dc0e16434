// Package exclusion implements the table exclusion rules for pgfreeze.
//
// An exclusion set is built once at startup from repeatable CLI arguments and
// never mutated afterward. Two scopes exist: global table names excluded in
// every database, and DATABASE.TABLE entries excluded only within the named
// database. Candidates arrive schema-qualified from the selector, so a rule
// matches either the qualified name ("public.orders") or the bare relation
// name ("orders").
package exclusion

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/pgfreeze/internal/sqlutil"
)

// Set holds the global and database-scoped exclusion rules.
// Database-scoped rules keep their argument order so status output and the
// plan command list them deterministically.
type Set struct {
	global map[string]struct{}
	scoped *orderedmap.OrderedMap[string, map[string]struct{}]
}

// New builds a Set from the raw CLI arguments. Scoped entries must be in
// DATABASE.TABLE form; a malformed entry is a fatal input error.
func New(global []string, scoped []string) (*Set, error) {
	s := &Set{
		global: make(map[string]struct{}, len(global)),
		scoped: orderedmap.NewOrderedMap[string, map[string]struct{}](),
	}

	for _, table := range global {
		table = strings.TrimSpace(table)
		if table == "" {
			return nil, fmt.Errorf("empty table name in exclusion list")
		}
		s.global[table] = struct{}{}
	}

	for _, entry := range scoped {
		db, table, err := parseScoped(entry)
		if err != nil {
			return nil, err
		}
		tables, ok := s.scoped.Get(db)
		if !ok {
			tables = make(map[string]struct{})
			s.scoped.Set(db, tables)
		}
		tables[table] = struct{}{}
	}

	return s, nil
}

// parseScoped splits a DATABASE.TABLE argument. The table part may itself be
// schema-qualified, so only the first dot separates database from table.
func parseScoped(entry string) (db, table string, err error) {
	entry = strings.TrimSpace(entry)
	db, table, found := strings.Cut(entry, ".")
	if !found || db == "" || table == "" {
		return "", "", fmt.Errorf("malformed scoped exclusion %q: expected DATABASE.TABLE", entry)
	}
	if !sqlutil.IsValidIdentifier(db) {
		return "", "", fmt.Errorf("malformed scoped exclusion %q: %q is not a valid database name", entry, db)
	}
	return db, table, nil
}

// IsExcluded reports whether the table is excluded in the given database.
// Pure function of the set; table may be schema-qualified.
func (s *Set) IsExcluded(database, table string) bool {
	if s == nil {
		return false
	}
	bare := sqlutil.BareRelation(table)

	if _, ok := s.global[table]; ok {
		return true
	}
	if _, ok := s.global[bare]; ok {
		return true
	}

	tables, ok := s.scoped.Get(database)
	if !ok {
		return false
	}
	if _, ok := tables[table]; ok {
		return true
	}
	_, ok = tables[bare]
	return ok
}

// GlobalCount returns the number of globally excluded tables.
func (s *Set) GlobalCount() int {
	return len(s.global)
}

// ScopedDatabases returns the databases with scoped exclusions, in the order
// their rules were given.
func (s *Set) ScopedDatabases() []string {
	var dbs []string
	for el := s.scoped.Front(); el != nil; el = el.Next() {
		dbs = append(dbs, el.Key)
	}
	return dbs
}

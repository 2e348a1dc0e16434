// Package database provides PostgreSQL connection management for pgfreeze.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dbsmedya/pgfreeze/internal/config"
)

// Manager opens per-database connections against one PostgreSQL cluster.
// Each connection is pinned to a single session so that session-level SETs
// (vacuum cost delay/limit, statement and lock timeouts) apply to the same
// backend that later executes the maintenance statements.
type Manager struct {
	cfg     *config.ConnectionConfig
	notices *NoticeCollector
}

// NewManager creates a new database manager from connection configuration.
func NewManager(cfg *config.ConnectionConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		notices: NewNoticeCollector(),
	}
}

// Notices returns the collector fed by the notice handler of every
// connection this manager opens.
func (m *Manager) Notices() *NoticeCollector {
	return m.notices
}

// Connect opens a single-session connection to the named database and
// verifies it with a ping. Target databases fail fast; a failure here is a
// database-skip, not a run abort.
func (m *Manager) Connect(ctx context.Context, dbName string) (*sql.DB, error) {
	db, err := m.open(dbName)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dbName, err)
	}

	return db, nil
}

// ConnectRetry opens a connection with exponential backoff. Used for the
// discovery connection, where failure aborts the whole run.
func (m *Manager) ConnectRetry(ctx context.Context, dbName string) (*sql.DB, error) {
	var err error

	maxRetries := 3
	backoff := time.Second

	for i := 0; i < maxRetries; i++ {
		var db *sql.DB
		db, err = m.open(dbName)
		if err == nil {
			if pingErr := db.PingContext(ctx); pingErr == nil {
				return db, nil
			} else {
				db.Close()
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2 // Exponential backoff
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", 3, err)
}

// open builds a notice-aware connector for the named database.
func (m *Manager) open(dbName string) (*sql.DB, error) {
	dsn := BuildDSN(m.cfg, dbName)

	base, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("connector for %s: %w", dbName, err)
	}

	connector := pq.ConnectorWithNoticeHandler(base, func(n *pq.Error) {
		m.notices.Append(n.Message)
	})

	db := sql.OpenDB(connector)

	// One backend per database visit. Session SETs and the vacuums they
	// throttle must share a connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// BuildDSN constructs a libpq keyword/value connection string.
func BuildDSN(cfg *config.ConnectionConfig, dbName string) string {
	dsn := fmt.Sprintf("dbname='%s'", dbName)

	if cfg.Host != "" {
		dsn += fmt.Sprintf(" host='%s'", cfg.Host)
	}
	if cfg.Port > 0 {
		dsn += fmt.Sprintf(" port=%d", cfg.Port)
	}
	if cfg.User != "" {
		dsn += fmt.Sprintf(" user='%s'", cfg.User)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password='%s'", cfg.Password)
	}

	switch cfg.SSLMode {
	case "":
		dsn += " sslmode=prefer"
	default:
		dsn += fmt.Sprintf(" sslmode=%s", cfg.SSLMode)
	}

	return dsn
}

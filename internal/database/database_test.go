package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbsmedya/pgfreeze/internal/config"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ConnectionConfig
		dbName   string
		expected string
	}{
		{
			name:     "Database name only",
			cfg:      config.ConnectionConfig{},
			dbName:   "app",
			expected: "dbname='app' sslmode=prefer",
		},
		{
			name: "Full connection settings",
			cfg: config.ConnectionConfig{
				Host:     "db1.internal",
				Port:     5433,
				User:     "maintenance",
				Password: "s3cret",
				SSLMode:  "require",
			},
			dbName:   "reporting",
			expected: "dbname='reporting' host='db1.internal' port=5433 user='maintenance' password='s3cret' sslmode=require",
		},
		{
			name: "SSL disabled",
			cfg: config.ConnectionConfig{
				Host:    "localhost",
				SSLMode: "disable",
			},
			dbName:   "app",
			expected: "dbname='app' host='localhost' sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildDSN(&tt.cfg, tt.dbName))
		})
	}
}

func TestNoticeCollector_AppendDrain(t *testing.T) {
	nc := NewNoticeCollector()
	assert.Equal(t, 0, nc.Len())

	nc.Append("vacuuming \"public.orders\"")
	nc.Append("index \"orders_pkey\" scanned")
	assert.Equal(t, 2, nc.Len())

	drained := nc.Drain()
	assert.Equal(t, []string{
		"vacuuming \"public.orders\"",
		"index \"orders_pkey\" scanned",
	}, drained)

	// Drained means empty; the next operation starts clean.
	assert.Equal(t, 0, nc.Len())
	assert.Empty(t, nc.Drain())
}

func TestNoticeCollector_ConcurrentAppend(t *testing.T) {
	nc := NewNoticeCollector()
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				nc.Append("notice")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}

	assert.Equal(t, 400, nc.Len())
}

func TestNewManager(t *testing.T) {
	cfg := &config.ConnectionConfig{Host: "localhost", Port: 5432}
	m := NewManager(cfg)

	assert.NotNil(t, m)
	assert.NotNil(t, m.Notices())
}

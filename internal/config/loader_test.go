package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgfreeze.yaml")

	content := `
connection:
  host: db1.internal
  port: 5433
  user: maintenance
run:
  minutes: 90
  vacuum: true
  exclude_tables:
    - audit_log
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db1.internal", cfg.Connection.Host)
	assert.Equal(t, 5433, cfg.Connection.Port)
	assert.Equal(t, "maintenance", cfg.Connection.User)
	assert.Equal(t, 90, cfg.Run.Minutes)
	assert.True(t, cfg.Run.Vacuum)
	assert.Equal(t, []string{"audit_log"}, cfg.Run.ExcludeTables)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields keep defaults.
	assert.Equal(t, 10, cfg.Run.PauseSeconds)
	assert.Equal(t, int64(10000000), cfg.Run.FreezeAge)
	assert.Equal(t, 20, cfg.Run.CostDelayMS)
	assert.Equal(t, 2000, cfg.Run.CostLimit)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/pgfreeze.yaml")
	require.Error(t, err)
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("PGFREEZE_TEST_PASSWORD", "s3cret")

	dir := t.TempDir()
	path := filepath.Join(dir, "pgfreeze.yaml")
	content := `
connection:
  host: localhost
  password: ${PGFREEZE_TEST_PASSWORD}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Connection.Password)
}

func TestLoad_EnvSubstitutionMissingVarKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgfreeze.yaml")
	content := `
connection:
  password: ${PGFREEZE_DOES_NOT_EXIST}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "${PGFREEZE_DOES_NOT_EXIST}", cfg.Connection.Password)
}

func TestApplyOverrides(t *testing.T) {
	cfg := DefaultConfig()

	cfg.ApplyOverrides(Overrides{
		LogLevel: "debug",
		Host:     "replica.internal",
		Port:     6432,
		User:     "ops",
	})

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "replica.internal", cfg.Connection.Host)
	assert.Equal(t, 6432, cfg.Connection.Port)
	assert.Equal(t, "ops", cfg.Connection.User)

	// Empty overrides leave existing values alone.
	cfg.ApplyOverrides(Overrides{})
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "replica.internal", cfg.Connection.Host)
}

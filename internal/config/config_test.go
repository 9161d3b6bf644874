package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "dsq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Config{
		Backend:  BackendSQLite,
		SQLite:   SQLiteConfig{Path: "dsq.db"},
		Postgres: PostgresConfig{MaxConns: 5},
		DocStore: DocStoreConfig{Path: "dsq-docs"},
		Log:      LogConfig{Level: "info", Format: "text"},
		IDGen:    IDGenConfig{MaxAttempts: 5},
	}, cfg)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
backend: docstore
docstore:
  path: /var/lib/dsq
log:
  level: debug
  format: json
idgen:
  max_attempts: 9
`)

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendDocStore, cfg.Backend)
	assert.Equal(t, "/var/lib/dsq", cfg.DocStore.Path)
	assert.Equal(t, "dsq.db", cfg.SQLite.Path, "unset keys keep their defaults")
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 9, cfg.IDGen.MaxAttempts)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sqlite:\n  path: file.db\n")
	t.Setenv("DSQ_SQLITE_PATH", "env.db")
	t.Setenv("DSQ_POSTGRES_MAX_CONNS", "12")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "env.db", cfg.SQLite.Path)
	assert.Equal(t, int32(12), cfg.Postgres.MaxConns)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "backend: postgres\npostgres:\n  dsn: postgres://localhost/dsq\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "postgres://localhost/dsq", cfg.Postgres.DSN)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "backend: [unclosed\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Backend: BackendSQLite,
			Log:     LogConfig{Level: "warn", Format: "text"},
			IDGen:   IDGenConfig{MaxAttempts: 1},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"backend", func(c *Config) { c.Backend = "mysql" }, "invalid backend"},
		{"postgres without dsn", func(c *Config) { c.Backend = BackendPostgres }, "postgres.dsn"},
		{"level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"attempts", func(c *Config) { c.IDGen.MaxAttempts = 0 }, "max_attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dealflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "dealflow.db", cfg.Storage.DSN)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.Worker.Interval)
	assert.Equal(t, 10, cfg.Worker.BatchSize)
	assert.Equal(t, []string{"ADMIN", "SYSTEM"}, cfg.Engine.SupervisorRoles)
	assert.Equal(t, 4, cfg.Engine.MaxAttempts)
	assert.False(t, cfg.Metrics.Otel)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
storage:
  driver: Postgres
  dsn: postgres://dealflow@localhost/dealflow
worker:
  interval: 30s
  lock_file: /tmp/dealflow.lock
engine:
  supervisor_roles: [admin, " op_manager "]
  max_attempts: 2
metrics:
  otel: true
`)
	t.Setenv("DEALFLOW_HTTP_ADDR", ":9090")
	t.Setenv("DEALFLOW_WORKER_BATCH_SIZE", "50")
	t.Setenv("DEALFLOW_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Worker.Interval)
	assert.Equal(t, "/tmp/dealflow.lock", cfg.Worker.LockFile)
	assert.Equal(t, []string{"ADMIN", "OP_MANAGER"}, cfg.Engine.SupervisorRoles)
	assert.Equal(t, 2, cfg.Engine.MaxAttempts)
	assert.True(t, cfg.Metrics.Otel)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_InvalidSettings(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: mysql
messaging:
  telegram_token: abc
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
	assert.NotContains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "telegram_chat_id")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

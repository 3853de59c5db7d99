package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  secret: test-secret\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 60, cfg.Auth.TokenTTLMinutes)
	require.Equal(t, 4, cfg.Scanner.Workers)
	require.Equal(t, 2, cfg.Scanner.MaxRetries)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, 10, cfg.Schedule.IntervalMinutes)
	require.Contains(t, cfg.Watch.Keywords, "password")
	require.Contains(t, cfg.Watch.Keywords, "ransomware")

	require.Equal(t, 30*time.Second, cfg.FetchTimeout())
	require.Equal(t, time.Hour, cfg.TokenTTL())
	require.Equal(t, 10*time.Minute, cfg.ScheduleInterval())

	initial, max := cfg.ScanBackoff()
	require.Equal(t, 250*time.Millisecond, initial)
	require.Equal(t, 2*time.Second, max)

	initial, max = cfg.AlertBackoff()
	require.Equal(t, 500*time.Millisecond, initial)
	require.Equal(t, 5*time.Second, max)
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: test-secret
server:
  port: 9999
scanner:
  workers: 8
storage:
  driver: postgres
  dsn: postgres://darkmon:pw@localhost:5432/darkmon
schedule:
  interval_minutes: 5
  targets:
    - url: http://example.onion
      source: tor
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 8, cfg.Scanner.Workers)
	require.Equal(t, "postgres", cfg.Storage.Driver)
	require.Len(t, cfg.Schedule.Targets, 1)
	require.Equal(t, "tor", cfg.Schedule.Targets[0].Source)
	require.Equal(t, 5*time.Minute, cfg.ScheduleInterval())
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "auth.secret")
}

func TestLoadRejectsPostgresWithoutDSN(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: test-secret
storage:
  driver: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.dsn")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, `
auth:
  secret: test-secret
storage:
  driver: cassandra
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func load(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	return Load(func(o *LoadOptions) {
		o.ConfigDirs = []string{dir}
		o.EnvFiles = []string{filepath.Join(dir, ".env")}
	})
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	cfg, err := load(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, EnvTest, cfg.Env)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Orchestrator.MaxErrors)
	assert.Equal(t, 10*time.Minute, cfg.Stream.Watchdog)
	assert.Empty(t, cfg.LoadedFrom())
}

func TestLoad_YAMLLayersAndEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.yaml", `
server:
  addr: ":9000"
orchestrator:
  max_errors: 5
  text_delay: 20ms
agents:
  - id: triage
    provider: mock
    peers: [billing]
  - id: billing
    endpoint: http://billing:8080/a2a
    status_updates:
      enabled: true
      interval: 2s
      messages: ["Checking invoices..."]
`)
	writeFile(t, dir, "test.yaml", `
database:
  driver: sqlite
  dsn: ${RELAY_TEST_DB}
`)
	writeFile(t, dir, ".env", "RELAY_TEST_DB=file:relay.db\n")
	t.Cleanup(func() { os.Unsetenv("RELAY_TEST_DB") })
	t.Setenv("APP_ENV", "test")
	t.Setenv("AGENTRELAY_MAX_ERRORS", "7")
	t.Setenv("AGENTRELAY_ETCD_ENDPOINTS", "etcd-1:2379,etcd-2:2379")

	cfg, err := load(t, dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:relay.db", cfg.Database.DSN)
	assert.Equal(t, filepath.Join(dir, "test.yaml"), cfg.LoadedFrom())
	assert.Equal(t, 7, cfg.Orchestrator.MaxErrors)
	assert.Equal(t, 20*time.Millisecond, cfg.Orchestrator.TextDelay)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Etcd.Endpoints)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, []string{"billing"}, cfg.Agents[0].Peers)
	assert.True(t, cfg.Agents[1].StatusUpdates.Enabled)
	assert.Equal(t, 2*time.Second, cfg.Agents[1].StatusUpdates.Interval)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"missing dsn", "database:\n  driver: postgres\n"},
		{"agent without id", "agents:\n  - provider: mock\n"},
		{"duplicate agent", "agents:\n  - {id: a, provider: mock}\n  - {id: a, provider: mock}\n"},
		{"agent without target", "agents:\n  - id: a\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "common.yaml", tt.yaml)
			t.Setenv("APP_ENV", "dev")
			_, err := load(t, dir)
			assert.Error(t, err)
		})
	}
}

func TestLoad_BadEnvOverride(t *testing.T) {
	t.Setenv("AGENTRELAY_TEXT_DELAY", "soon")
	_, err := load(t, t.TempDir())
	assert.Error(t, err)
}

func TestMaskPassword(t *testing.T) {
	assert.Equal(t, "postgres://relay:***@db:5432/relay", maskPassword("postgres://relay:secret@db:5432/relay"))
	assert.Equal(t, "redis://localhost:6379/0", maskPassword("redis://localhost:6379/0"))
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
qbittorrent:
  host: localhost
  port: "8080"
  username: admin
  password: secret
trackers:
  - id: default
    name: Default
    pattern: ".*"
    max_upload_speed: -1
    priority: 0
`

func TestNewAppliesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := New(path)
	require.NoError(t, err)

	assert.EqualValues(t, 300, cfg.Global.UpdateInterval)
	assert.EqualValues(t, 10, cfg.Global.ActiveTorrentThresholdKB)
	assert.Equal(t, 500, cfg.Global.MaxAPICallsPerCycle)
	assert.Equal(t, 0.2, cfg.Global.DifferentialThreshold)
	assert.Equal(t, 100, cfg.Global.RolloutPercentage)
	assert.Equal(t, "equal", cfg.Global.AllocationStrategy)
	assert.Equal(t, 8089, cfg.Global.Port)
	assert.Equal(t, "rollback.db", cfg.Rollback.DatabasePath)
}

func TestNewRejectsEmptyTrackerList(t *testing.T) {
	path := writeConfig(t, `
qbittorrent:
  host: localhost
  port: "8080"
`)
	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trackers list")
}

func TestNewRejectsBadRolloutPercentage(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\nglobal:\n  rollout_percentage: 150\n")
	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollout_percentage")
}

func TestNewRejectsUnknownAllocationStrategy(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\nglobal:\n  allocation_strategy: greedy\n")
	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation_strategy")
}

func TestEnvironmentVariableOverridesFileValue(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\nglobal:\n  update_interval: 60\n")

	os.Setenv("UPCAP_GLOBAL__UPDATE_INTERVAL", "45")
	defer os.Unsetenv("UPCAP_GLOBAL__UPDATE_INTERVAL")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.EqualValues(t, 45, cfg.Global.UpdateInterval)
}

func TestExpandEnvSubstitutesQbittorrentCredentials(t *testing.T) {
	path := writeConfig(t, `
qbittorrent:
  host: ${QBIT_TEST_HOST}
  port: "8080"
  username: admin
  password: ${QBIT_TEST_PASSWORD}
trackers:
  - id: default
    name: Default
    pattern: ".*"
    max_upload_speed: -1
`)
	os.Setenv("QBIT_TEST_HOST", "qbit.internal")
	os.Setenv("QBIT_TEST_PASSWORD", "hunter2")
	defer os.Unsetenv("QBIT_TEST_HOST")
	defer os.Unsetenv("QBIT_TEST_PASSWORD")

	cfg, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, "qbit.internal", cfg.Qbittorrent.Host)
	assert.Equal(t, "hunter2", cfg.Qbittorrent.Password)
}

func TestToClientConfigBuildsBaseURL(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := New(path)
	require.NoError(t, err)

	clientCfg, err := cfg.ToClientConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", clientCfg.Host)
	assert.Equal(t, "admin", clientCfg.Username)
}

func TestToClientConfigRejectsNonNumericPort(t *testing.T) {
	path := writeConfig(t, `
qbittorrent:
  host: localhost
  port: "not-a-number"
trackers:
  - id: default
    pattern: ".*"
    max_upload_speed: -1
`)
	cfg, err := New(path)
	require.NoError(t, err)

	_, err = cfg.ToClientConfig()
	require.Error(t, err)
}

func TestToEngineConfigConvertsKBThresholdToBytes(t *testing.T) {
	path := writeConfig(t, minimalConfig+"\nglobal:\n  active_torrent_threshold_kb: 20\n")
	cfg, err := New(path)
	require.NoError(t, err)

	engineCfg := cfg.ToEngineConfig()
	assert.EqualValues(t, 20*1024, engineCfg.ActiveTorrentThreshold)
}

func TestToTrackerConfigsPreservesOrder(t *testing.T) {
	path := writeConfig(t, `
qbittorrent:
  host: localhost
  port: "8080"
trackers:
  - id: priv
    pattern: ".*private\\.example\\.org.*"
    max_upload_speed: 4194304
    priority: 10
  - id: default
    pattern: ".*"
    max_upload_speed: -1
`)
	cfg, err := New(path)
	require.NoError(t, err)

	trackers := cfg.ToTrackerConfigs()
	require.Len(t, trackers, 2)
	assert.Equal(t, "priv", trackers[0].ID)
	assert.Equal(t, "default", trackers[1].ID)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, func(c *Config) { reloaded <- c }, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond) // let fsnotify establish the watch
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig+"\nglobal:\n  update_interval: 42\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.EqualValues(t, 42, cfg.Global.UpdateInterval)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the config file write")
	}
}

func TestWatcherSkipsInvalidReload(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, func(c *Config) { reloaded <- c }, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("trackers: []\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("invalid config must not trigger onReload")
	case <-time.After(300 * time.Millisecond):
	}
}

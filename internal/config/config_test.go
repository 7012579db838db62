package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) Getenv {
	return func(k string) string { return m[k] }
}

func TestLoadRelayDefaults(t *testing.T) {
	cfg, err := LoadRelay(nil, envOf(nil))
	require.NoError(t, err)
	assert.Nil(t, cfg.StorageAddr)
	assert.Nil(t, cfg.LogAddr)
	assert.Zero(t, cfg.CrawlID)
	assert.Equal(t, "127.0.0.1", cfg.ListenHost)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
}

func TestLoadRelayFlags(t *testing.T) {
	cfg, err := LoadRelay([]string{
		"-storage", "localhost:7001", "-log", "localhost:7002",
		"-crawl-id", "4", "-profile", "/tmp/p", "-log-level", "debug",
	}, envOf(nil))
	require.NoError(t, err)
	require.NotNil(t, cfg.StorageAddr)
	assert.Equal(t, "localhost:7001", cfg.StorageAddr.String())
	assert.Equal(t, 7002, cfg.LogAddr.Port)
	assert.EqualValues(t, 4, cfg.CrawlID)
	assert.Equal(t, "/tmp/p", cfg.ProfileDir)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRelayEnvFillsUnsetFlags(t *testing.T) {
	env := envOf(map[string]string{
		"EXTRELAY_STORAGE":     "10.0.0.1:9000",
		"EXTRELAY_CRAWL_ID":    "8",
		"EXTRELAY_PROFILE_DIR": "/env/profile",
	})
	cfg, err := LoadRelay([]string{"-profile", "/flag/profile"}, env)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", cfg.StorageAddr.String())
	assert.EqualValues(t, 8, cfg.CrawlID)
	assert.Equal(t, "/flag/profile", cfg.ProfileDir)
}

func TestLoadRelayErrors(t *testing.T) {
	_, err := LoadRelay([]string{"-storage", "nope"}, envOf(nil))
	assert.Error(t, err)

	_, err = LoadRelay([]string{"-log-level", "loud"}, envOf(nil))
	assert.Error(t, err)

	_, err = LoadRelay(nil, envOf(map[string]string{"EXTRELAY_CRAWL_ID": "x"}))
	assert.Error(t, err)
}

func TestLoadCollector(t *testing.T) {
	cfg, err := LoadCollector([]string{"-storage-listen", "127.0.0.1:0", "-cache", "10"},
		envOf(map[string]string{"EXTRELAY_COLLECTOR_DATA": "/var/lib/extrelay"}))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.StorageListen)
	assert.Equal(t, ":7002", cfg.LogListen)
	assert.Equal(t, "/var/lib/extrelay", cfg.DataDir)
	assert.Equal(t, 10, cfg.CacheSize)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	_, err = LoadCollector([]string{"-cache", "0"}, envOf(nil))
	assert.Error(t, err)
}

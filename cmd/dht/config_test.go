package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/config"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.NewConfig(), cfg)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("DHT_LISTEN_ADDR", "0.0.0.0:7000")
	t.Setenv("DHT_ADVERTISE_ADDR", "203.0.113.5:7000")
	t.Setenv("DHT_BOOTSTRAP_PEERS", " a@h:1, ,b@h:2 ")
	t.Setenv("DHT_IN_MEMORY", "yes")
	t.Setenv("DHT_KEY_FILE", "/tmp/node.key")
	t.Setenv("DHT_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("DHT_LOG_LEVEL", "debug")

	cfg := config.NewConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "0.0.0.0:7000", cfg.Transport.ListenAddr)
	assert.Equal(t, "203.0.113.5:7000", cfg.Transport.AdvertiseAddr)
	assert.Equal(t, []string{"a@h:1", "b@h:2"}, cfg.BootstrapPeers)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "/tmp/node.key", cfg.Identity.KeyFile)
	assert.True(t, cfg.Identity.AutoGenerate)
	assert.Equal(t, "127.0.0.1:9100", cfg.Diagnostics.MetricsAddr)
	assert.Equal(t, "debug", getLogLevelFromEnv())

	t.Log("✅ 环境变量覆盖配置")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES", " on "} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"", "false", "0", "nope"} {
		assert.False(t, parseBool(v), v)
	}
}

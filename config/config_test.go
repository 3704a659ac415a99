package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	data, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))
}

func TestConfig_FromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"transport": {"listen_addr": "0.0.0.0:5000", "max_frame_size": 4096},
		"dht": {"bucket_size": 16, "alpha": 4, "query_timeout": "2s", "value_ttl": "30m"},
		"storage": {"in_memory": true, "data_dir": ""},
		"bootstrap_peers": ["abc@127.0.0.1:1"]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Transport.ListenAddr)
	assert.Equal(t, 16, cfg.DHT.BucketSize)
	assert.Equal(t, 4, cfg.DHT.Alpha)
	assert.Equal(t, 2*time.Second, cfg.DHT.QueryTimeout.Duration())
	assert.Equal(t, 30*time.Minute, cfg.DHT.ValueTTL.Duration())
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, []string{"abc@127.0.0.1:1"}, cfg.BootstrapPeers)

	// 未出现的字段保留默认值
	assert.True(t, cfg.Identity.AutoGenerate)
	assert.Equal(t, 5*time.Second, cfg.Transport.DialTimeout.Duration())
}

func TestConfig_ValidateCombinesErrors(t *testing.T) {
	cfg := NewConfig()
	cfg.Transport.ListenAddr = ""
	cfg.DHT.Alpha = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen_addr")
	assert.Contains(t, err.Error(), "alpha")
}

func TestDHTConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultDHTConfig().Validate())

	c := DHTConfig{BucketSize: 4, Alpha: 8}
	assert.Error(t, c.Validate(), "alpha 不能大于 K")

	c = DHTConfig{ValueTTL: Duration(2 * time.Hour), MaxTTL: Duration(time.Hour)}
	assert.Error(t, c.Validate())

	c = DHTConfig{SweepInterval: Duration(-time.Second)}
	assert.Error(t, c.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dht.json")

	cfg := NewConfig()
	cfg.DHT.BucketSize = 8
	cfg.Diagnostics.MetricsAddr = "127.0.0.1:9100"
	require.NoError(t, cfg.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStorageConfig(t *testing.T) {
	assert.Error(t, StorageConfig{}.Validate())
	assert.NoError(t, StorageConfig{InMemory: true}.Validate())
	assert.Equal(t, filepath.Join("x", "dht.db"), StorageConfig{DataDir: "x"}.DBPath())
	assert.Error(t, StorageConfig{InMemory: true, GCInterval: -1}.Validate())
}

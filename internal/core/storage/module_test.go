package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/internal/core/storage/engine"
	"github.com/dep2p/go-dht/internal/discovery/dht"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
)

// TestConfigFromUnified 测试统一配置映射
func TestConfigFromUnified(t *testing.T) {
	c := ConfigFromUnified(nil)
	assert.Equal(t, DefaultConfig(), c)

	cfg := config.NewConfig()
	cfg.Storage.DataDir = "/var/lib/dht"
	c = ConfigFromUnified(cfg)
	assert.Equal(t, filepath.Join("/var/lib/dht", "dht.db"), c.Path)
	assert.False(t, c.InMemory)

	cfg.Storage.SyncWrites = true
	cfg.Storage.GCInterval = config.Duration(30 * time.Minute)
	c = ConfigFromUnified(cfg)
	assert.True(t, c.SyncWrites)
	assert.Equal(t, 30*time.Minute, c.GCInterval)

	cfg.Storage.InMemory = true
	assert.True(t, ConfigFromUnified(cfg).InMemory)
}

// TestConfig_Validate 测试配置校验与修正
func TestConfig_Validate(t *testing.T) {
	c := Config{}
	assert.ErrorIs(t, c.Validate(), engine.ErrInvalidConfig)

	c = Config{InMemory: true, GCInterval: time.Second}
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Minute, c.GCInterval)
}

// TestModule_ValuesPersist 测试模块提供的持久化后端可以读写
func TestModule_ValuesPersist(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.InMemory = true

	var values dht.EntryPersister
	var snaps *dht.RoutingSnapshotStore
	app := fxtest.New(t,
		fx.NopLogger,
		fx.Supply(cfg),
		Module(),
		fx.Populate(&values, &snaps),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, snaps)

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	e, err := dht.NewSignedEntry(priv, "n", 0, []byte("v"), time.Now(), time.Hour, 1)
	require.NoError(t, err)

	require.NoError(t, values.SaveEntry(e))
	loaded, err := values.LoadEntries()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, e.Key, loaded[0].Key)
	assert.Equal(t, []byte("v"), loaded[0].Value)

	require.NoError(t, values.DeleteEntry(e.Key))
	loaded, err = values.LoadEntries()
	require.NoError(t, err)
	assert.Empty(t, loaded)

	t.Log("✅ 存储模块提供可用的值持久化")
}

// TestModule_OnDisk 测试落盘模式
func TestModule_OnDisk(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()

	res, err := ProvideStorage(Params{UnifiedCfg: cfg})
	require.NoError(t, err)
	require.NoError(t, res.Engine.Start())
	require.NoError(t, res.Engine.Close())
}

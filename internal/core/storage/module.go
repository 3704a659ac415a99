package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/internal/core/storage/engine"
	"github.com/dep2p/go-dht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-dht/internal/core/storage/kv"
	"github.com/dep2p/go-dht/internal/discovery/dht"
	"github.com/dep2p/go-dht/pkg/lib/log"
)

var logger = log.Logger("core/storage")

// Params 存储模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 一个引擎加上 DHT 的两个前缀视图
type Result struct {
	fx.Out

	Engine    engine.Engine
	Values    dht.EntryPersister
	Snapshots *dht.RoutingSnapshotStore
}

// Module 存储 fx 模块
//
// 模块在 DHT 之前注册，fx 按逆序停止，DHT 关闭时保存路由表快照
// 仍能写入引擎。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
		fx.Invoke(func(lc fx.Lifecycle, eng engine.Engine) {
			lc.Append(fx.StartStopHook(
				func(context.Context) error { return eng.Start() },
				func(context.Context) error {
					logger.Info("关闭存储引擎")
					return eng.Close()
				},
			))
		}),
	)
}

// ProvideStorage 打开引擎，值条目与路由快照分别使用 d/v/ 与 d/r/ 前缀
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	eng, err := NewEngine(cfg)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Engine:    eng,
		Values:    dht.NewPersistentValueStore(kv.New(eng, dht.ValuePrefix)),
		Snapshots: dht.NewRoutingSnapshotStore(kv.New(eng, dht.RoutingPrefix)),
	}, nil
}

// NewEngine 按配置打开 badger 引擎
func NewEngine(cfg Config) (engine.Engine, error) {
	eng, err := badger.New(cfg.engineConfig())
	if err != nil {
		logger.Error("打开存储引擎失败", "path", cfg.Path, "error", err)
		return nil, err
	}
	logger.Debug("存储引擎已打开", "path", cfg.Path, "inMemory", cfg.InMemory)
	return eng, nil
}

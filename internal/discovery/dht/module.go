package dht

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
)

// autoBootstrapTimeout 启动后自动引导的超时
const autoBootstrapTimeout = 30 * time.Second

// Module DHT Fx 模块
var Module = fx.Module("discovery_dht",
	fx.Provide(NewFromParams),
	fx.Invoke(registerDHTLifecycle),
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	Transport  interfaces.Transport
	PrivateKey crypto.PrivateKey
	UnifiedCfg *config.Config `optional:"true"`

	// 持久化后端（由 storage 模块提供，缺省时只保存在内存）
	Values    EntryPersister        `optional:"true"`
	Snapshots *RoutingSnapshotStore `optional:"true"`

	Registerer prometheus.Registerer `optional:"true"`
}

// Result DHT 导出结果
type Result struct {
	fx.Out

	DHT     *DHT
	Handler interfaces.QueryHandler `name:"dht_handler"`
}

// NewFromParams 从 Fx 参数创建 DHT
func NewFromParams(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	opts := []ConfigOption{func(c *Config) { *c = *cfg }}
	if p.Values != nil {
		opts = append(opts, WithValuePersister(p.Values))
	}
	if p.Snapshots != nil {
		opts = append(opts, WithRoutingSnapshots(p.Snapshots))
	}
	if p.Registerer != nil {
		opts = append(opts, WithRegisterer(p.Registerer))
	}

	d, err := New(p.Transport, p.PrivateKey, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{DHT: d, Handler: d}, nil
}

// registerDHTLifecycle 启动后在后台引导，Start 不等待引导结果
func registerDHTLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Start(ctx); err != nil {
				return err
			}
			d.scheduleBootstrap()
			return nil
		},
		OnStop: d.Stop,
	})
}

// scheduleBootstrap 在后台用配置的种子节点引导
//
// 失败只记录日志。DHT 停止时引导随之取消。
func (d *DHT) scheduleBootstrap() {
	provider := d.config.SeedProvider
	if provider == nil {
		logger.Debug("未配置种子节点，跳过自动引导")
		return
	}

	d.goTracked(func(dctx context.Context) {
		ctx, cancel := context.WithTimeout(dctx, autoBootstrapTimeout)
		defer cancel()

		seeds, err := provider.SeedPeers(ctx)
		if err != nil {
			logger.Warn("获取种子节点失败", "error", err)
			return
		}

		logger.Info("DHT 自动引导开始", "seeds", len(seeds))
		if err := d.Bootstrap(ctx, seeds); err != nil {
			logger.Warn("DHT 自动引导失败", "error", err)
			return
		}
		logger.Info("DHT 自动引导完成", "routingTableSize", d.routingTable.Size())
	})
}

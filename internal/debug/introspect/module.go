package introspect

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/internal/discovery/dht"
)

// Module 诊断服务 fx 模块
//
// 模块自带 Prometheus 注册器，DHT 的指标注册到这里并由 /metrics 导出，
// 未加载本模块时 DHT 使用空注册器。
func Module() fx.Option {
	return fx.Module("introspect",
		fx.Provide(ProvideRegistry, Provide),
		fx.Invoke(func(lc fx.Lifecycle, s *Server) {
			lc.Append(fx.Hook{
				OnStart: s.Start,
				OnStop:  func(context.Context) error { return s.Stop() },
			})
		}),
	)
}

// Registry 指标注册器的两个视图
type Registry struct {
	fx.Out

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// ProvideRegistry 新建注册器并加入 Go 运行时与进程指标
func ProvideRegistry() Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return Registry{Registerer: reg, Gatherer: reg}
}

// Params 诊断服务依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config      `optional:"true"`
	DHT        *dht.DHT            `optional:"true"`
	Gatherer   prometheus.Gatherer `optional:"true"`
}

// Provide 创建诊断服务
func Provide(p Params) *Server {
	cfg := Config{Addr: DefaultAddr, Gatherer: p.Gatherer}
	if p.UnifiedCfg != nil && p.UnifiedCfg.Diagnostics.MetricsAddr != "" {
		cfg.Addr = p.UnifiedCfg.Diagnostics.MetricsAddr
	}
	if p.DHT != nil {
		cfg.Source = p.DHT
	}
	return New(cfg)
}

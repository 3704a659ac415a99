package transport

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/internal/core/transport/tcp"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// ConfigFromUnified 从统一配置创建 TCP 配置
func ConfigFromUnified(cfg *config.Config) tcp.Config {
	c := tcp.DefaultConfig()
	if cfg == nil {
		return c
	}
	c.DialTimeout = cfg.Transport.DialTimeout.Or(c.DialTimeout)
	if cfg.Transport.MaxFrameSize > 0 {
		c.MaxFrameSize = cfg.Transport.MaxFrameSize
	}
	return c
}

// Params 传输模块依赖
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result 传输模块导出
type Result struct {
	fx.Out

	TCP       *tcp.Transport
	Transport interfaces.Transport
}

// ProvideTransport 创建 TCP 传输（尚未监听）
func ProvideTransport(p Params) Result {
	t := tcp.New(ConfigFromUnified(p.UnifiedCfg))
	return Result{TCP: t, Transport: t}
}

// Module 返回传输 Fx 模块
//
// 入站处理器通过名称 "dht_handler" 注入，启动时开始监听。
func Module() fx.Option {
	return fx.Module("transport",
		fx.Provide(ProvideTransport),
		fx.Invoke(registerLifecycle),
	)
}

type lifecycleParams struct {
	fx.In

	LC         fx.Lifecycle
	TCP        *tcp.Transport
	Handler    interfaces.QueryHandler `name:"dht_handler"`
	UnifiedCfg *config.Config          `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	listen := config.DefaultTransportConfig().ListenAddr
	if p.UnifiedCfg != nil {
		listen = p.UnifiedCfg.Transport.ListenAddr
	}

	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := p.TCP.Listen(listen, p.Handler); err != nil {
				logger.Error("传输层启动失败", "addr", listen, "error", err)
				return err
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			return p.TCP.Close()
		},
	})
}

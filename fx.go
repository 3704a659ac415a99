package dht

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-dht/internal/core/identity"
	"github.com/dep2p/go-dht/internal/core/storage"
	"github.com/dep2p/go-dht/internal/core/transport"
	"github.com/dep2p/go-dht/internal/debug/introspect"
	dhtcore "github.com/dep2p/go-dht/internal/discovery/dht"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/lib/log"
)

var fxLogger = log.Logger("dht/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Core Layer: Identity → Storage → Transport
//  2. Discovery Layer: DHT
//  3. Debug Layer: Introspect（配置了 MetricsAddr 时）
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	modules := []fx.Option{
		fx.Supply(o.config),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 身份
	// ════════════════════════════════════════════════════════════════════════
	if o.privateKey != nil {
		key := o.privateKey
		modules = append(modules, fx.Provide(func() crypto.PrivateKey { return key }))
	} else {
		modules = append(modules, identity.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 存储与传输
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, storage.Module())

	if o.transport.t != nil {
		// 自定义传输：入站处理器通过回调挂载
		t, register := o.transport.t, o.transport.register
		modules = append(modules,
			fx.Provide(func() interfaces.Transport { return t }),
			fx.Invoke(func(in handlerParams) { register(in.Handler) }),
		)
		fxLogger.Debug("使用自定义传输")
	} else {
		modules = append(modules, transport.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. DHT
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, dhtcore.Module)

	// ════════════════════════════════════════════════════════════════════════
	// 5. 诊断（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	if o.config.Diagnostics.MetricsAddr != "" {
		modules = append(modules,
			introspect.Module(),
			fx.Populate(&node.introspect),
		)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. 用户扩展与组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, o.fxOptions...)
	modules = append(modules, fx.Populate(&node.dht))

	// 禁用 Fx 日志输出（避免干扰用户日志）
	modules = append(modules, fx.WithLogger(func() fxevent.Logger {
		return &fxevent.ZapLogger{Logger: zap.NewNop()}
	}))

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// handlerParams 入站处理器
type handlerParams struct {
	fx.In

	Handler interfaces.QueryHandler `name:"dht_handler"`
}

package dht

import (
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// config 统一配置（文件加载或默认值）
	config *config.Config

	// privateKey 直接注入的私钥，优先于密钥文件
	privateKey crypto.PrivateKey

	// 自定义传输（替代 TCP，用于进程内网络）
	transport struct {
		t        interfaces.Transport
		register func(handler interfaces.QueryHandler)
	}

	// fxOptions 用户扩展
	fxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置来源
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整的统一配置
//
// 后续选项在此基础上覆盖，因此应放在选项列表的最前面。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		c := *cfg
		c.BootstrapPeers = append([]string(nil), cfg.BootstrapPeers...)
		o.config = &c
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载统一配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份
// ════════════════════════════════════════════════════════════════════════════

// WithIdentityFromFile 从文件加载身份密钥，文件不存在时生成并写入
func WithIdentityFromFile(path string) Option {
	return func(o *options) error {
		o.config.Identity.KeyFile = path
		o.config.Identity.AutoGenerate = true
		return nil
	}
}

// WithPrivateKey 直接使用给定私钥
func WithPrivateKey(key crypto.PrivateKey) Option {
	return func(o *options) error {
		if key == nil {
			return fmt.Errorf("private key is nil")
		}
		o.privateKey = key
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              网络
// ════════════════════════════════════════════════════════════════════════════

// WithListenAddr 设置监听地址（host:port）
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("listen address is empty")
		}
		o.config.Transport.ListenAddr = addr
		return nil
	}
}

// WithAdvertiseAddr 设置对外公布的地址
//
// 监听 0.0.0.0 时必须设置，否则其他节点拿到的是不可达地址。
func WithAdvertiseAddr(addr string) Option {
	return func(o *options) error {
		o.config.Transport.AdvertiseAddr = addr
		return nil
	}
}

// WithBootstrapPeers 设置种子节点，格式 "<NodeID>@<host:port>"
func WithBootstrapPeers(peers ...string) Option {
	return func(o *options) error {
		for _, p := range peers {
			if _, err := types.ParsePeerAddr(p); err != nil {
				return err
			}
		}
		o.config.BootstrapPeers = append(o.config.BootstrapPeers, peers...)
		return nil
	}
}

// WithTransport 使用自定义传输替代 TCP
//
// register 在组装时被调用一次，用于把入站处理器挂到传输上。
func WithTransport(t interfaces.Transport, register func(handler interfaces.QueryHandler)) Option {
	return func(o *options) error {
		if t == nil || register == nil {
			return fmt.Errorf("transport and register must not be nil")
		}
		o.transport.t = t
		o.transport.register = register
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              存储与 DHT
// ════════════════════════════════════════════════════════════════════════════

// WithDataDir 设置数据目录
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.config.Storage.DataDir = dir
		o.config.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 不落盘，重启后值和路由表丢失
func WithInMemoryStorage() Option {
	return func(o *options) error {
		o.config.Storage.InMemory = true
		return nil
	}
}

// WithValueTTL 设置默认值 TTL
func WithValueTTL(ttl time.Duration) Option {
	return func(o *options) error {
		o.config.DHT.ValueTTL = config.Duration(ttl)
		return nil
	}
}

// WithQueryTimeout 设置单次查询超时
func WithQueryTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		o.config.DHT.QueryTimeout = config.Duration(timeout)
		return nil
	}
}

// WithMaintenance 启用或禁用后台维护
func WithMaintenance(enable bool) Option {
	return func(o *options) error {
		o.config.DHT.DisableMaintenance = !enable
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              诊断与扩展
// ════════════════════════════════════════════════════════════════════════════

// WithMetricsAddr 启用诊断 HTTP 服务（含 /metrics）
func WithMetricsAddr(addr string) Option {
	return func(o *options) error {
		o.config.Diagnostics.MetricsAddr = addr
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}

// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 文件加载和保存。零值字段在加载后由默认值补齐。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Transport.ListenAddr = "0.0.0.0:4001"
//
//	cfg, err := config.LoadFile("dht.json")
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// Config 是 DHT 节点的完整配置结构
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// DHT DHT 引擎配置
	DHT DHTConfig `json:"dht"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Diagnostics 诊断服务配置
	Diagnostics DiagnosticsConfig `json:"diagnostics"`

	// BootstrapPeers 种子节点，格式 "<NodeID>@<host:port>"
	BootstrapPeers []string `json:"bootstrap_peers,omitempty"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Transport:   DefaultTransportConfig(),
		DHT:         DefaultDHTConfig(),
		Storage:     DefaultStorageConfig(),
		Diagnostics: DefaultDiagnosticsConfig(),
	}
}

// Validate 验证所有子配置，汇总全部错误
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	return multierr.Combine(
		c.Transport.Validate(),
		c.DHT.Validate(),
		c.Storage.Validate(),
	)
}

// FromJSON 从 JSON 解析配置
//
// 未出现的字段保留默认值。
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// SaveFile 将配置保存为缩进 JSON
func (c *Config) SaveFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ============================================================================
//                              小型子配置
// ============================================================================

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile Ed25519 私钥种子文件路径（十六进制）
	// 为空时在内存中生成临时密钥
	KeyFile string `json:"key_file"`

	// AutoGenerate 当密钥文件不存在时是否自动生成并写入
	AutoGenerate bool `json:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",
		AutoGenerate: true,
	}
}

// TransportConfig TCP 传输配置
type TransportConfig struct {
	// ListenAddr 监听地址
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr 对外公布的地址，为空时使用 ListenAddr
	AdvertiseAddr string `json:"advertise_addr,omitempty"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// MaxFrameSize 单帧最大字节数
	MaxFrameSize int `json:"max_frame_size"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:   "127.0.0.1:4001",
		DialTimeout:  Duration(5e9),
		MaxFrameSize: 1 << 20,
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("transport: listen_addr cannot be empty")
	}
	if c.MaxFrameSize < 1024 {
		return fmt.Errorf("transport: max_frame_size must be >= 1024, got %d", c.MaxFrameSize)
	}
	return nil
}

// Advertise 返回对外公布的地址
func (c TransportConfig) Advertise() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.ListenAddr
}

// DiagnosticsConfig 诊断服务配置
type DiagnosticsConfig struct {
	// MetricsAddr Prometheus 指标 HTTP 监听地址，为空时禁用
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// DefaultDiagnosticsConfig 返回默认诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{}
}

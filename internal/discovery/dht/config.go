package dht

import (
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/types"
)

// Config DHT 配置
type Config struct {
	// ============= 路由表 =============

	// BucketSize K-桶容量，同时是查找返回的结果数量 K
	BucketSize int

	// EvictionProbes 桶满时对最久未见节点的探测次数
	EvictionProbes int

	// DeadStrikes 连续失败多少次判定为 Dead
	DeadStrikes int

	// ============= 查找 =============

	// Alpha 每轮并发查询数 α
	Alpha int

	// QueryTimeout 单次查询超时
	QueryTimeout time.Duration

	// QueryRetries 超时后的重试次数（固定为 1）
	QueryRetries int

	// RetryBackoff 重试前的等待时间
	RetryBackoff time.Duration

	// LookupTimeout 单次查找的全局时间预算
	LookupTimeout time.Duration

	// MaxLookupRounds 单次查找最多轮数
	MaxLookupRounds int

	// MaxConcurrentLookups 同时进行的查找数量上限
	MaxConcurrentLookups int

	// FullValueSearch 值查找找到条目后仍继续搜索，收集最新版本
	FullValueSearch bool

	// BadPeerThreshold 坏节点分数达到该值后被查找忽略
	BadPeerThreshold int

	// BadPeerTTL 坏节点分数保留时间
	BadPeerTTL time.Duration

	// ============= 值存储 =============

	// ValueTTL Store 默认 TTL
	ValueTTL time.Duration

	// MaxTTL 接受的最大 TTL
	MaxTTL time.Duration

	// MaxValueSize 值的最大字节数
	MaxValueSize int

	// MaxClockSkew 允许的创建时间超前量
	MaxClockSkew time.Duration

	// ============= 维护 =============

	// EnableMaintenance 是否运行后台维护
	EnableMaintenance bool

	// RefreshInterval 桶刷新检查间隔
	RefreshInterval time.Duration

	// BucketStaleAfter 桶多久未被查询视为需要刷新
	BucketStaleAfter time.Duration

	// LivenessInterval 活性探测间隔
	LivenessInterval time.Duration

	// PingStaleAfter 节点多久未见需要探测
	PingStaleAfter time.Duration

	// RepublishInterval 重新发布检查间隔
	RepublishInterval time.Duration

	// RepublishWindow 剩余 TTL 小于该值的本地条目被重新发布
	RepublishWindow time.Duration

	// SweepInterval 过期清理间隔
	SweepInterval time.Duration

	// ============= 入站服务 =============

	// InboundRate 每个来源地址每秒允许的请求数
	InboundRate float64

	// InboundBurst 入站突发上限
	InboundBurst int

	// MaxMessageSize 消息最大字节数
	MaxMessageSize int

	// ============= 协作者 =============

	// ListenAddr 本节点对外公布的地址（写入请求的 Sender 字段）
	ListenAddr string

	// SeedProvider 种子节点提供者
	SeedProvider interfaces.SeedProvider

	// Clock 时间源（测试使用 clock.Mock）
	Clock clock.Clock

	// Registerer Prometheus 注册器，nil 时不注册指标
	Registerer prometheus.Registerer

	// ValuePersister 值条目持久化后端，nil 时只保存在内存
	ValuePersister EntryPersister

	// RoutingSnapshots 路由表快照，nil 时不持久化路由表
	RoutingSnapshots *RoutingSnapshotStore

	// SnapshotMaxAge 恢复快照时跳过超过该时间未见的节点
	SnapshotMaxAge time.Duration
}

// DefaultConfig 返回默认配置
//
// 默认值：K=20、α=3、TTL 1h（与常见 Kademlia 部署一致）。
func DefaultConfig() *Config {
	return &Config{
		BucketSize:           20,
		EvictionProbes:       2,
		DeadStrikes:          3,
		Alpha:                3,
		QueryTimeout:         5 * time.Second,
		QueryRetries:         1,
		RetryBackoff:         100 * time.Millisecond,
		LookupTimeout:        60 * time.Second,
		MaxLookupRounds:      32,
		MaxConcurrentLookups: 8,
		BadPeerThreshold:     5,
		BadPeerTTL:           10 * time.Minute,
		ValueTTL:             time.Hour,
		MaxTTL:               24 * time.Hour,
		MaxValueSize:         16 << 10,
		MaxClockSkew:         5 * time.Minute,
		EnableMaintenance:    true,
		RefreshInterval:      10 * time.Minute,
		BucketStaleAfter:     time.Hour,
		LivenessInterval:     5 * time.Minute,
		PingStaleAfter:       15 * time.Minute,
		RepublishInterval:    5 * time.Minute,
		RepublishWindow:      20 * time.Minute,
		SweepInterval:        10 * time.Minute,
		InboundRate:          50,
		InboundBurst:         100,
		MaxMessageSize:       1 << 20,
		SnapshotMaxAge:       24 * time.Hour,
		Clock:                clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.BucketSize <= 0 {
		return errors.New("bucket size must be positive")
	}
	if c.Alpha <= 0 {
		return errors.New("alpha must be positive")
	}
	if c.Alpha > c.BucketSize {
		return fmt.Errorf("alpha (%d) must not exceed bucket size (%d)", c.Alpha, c.BucketSize)
	}
	if c.EvictionProbes <= 0 {
		return errors.New("eviction probes must be positive")
	}
	if c.DeadStrikes <= 0 {
		return errors.New("dead strikes must be positive")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be positive")
	}
	if c.QueryRetries < 0 {
		return errors.New("query retries must not be negative")
	}
	if c.LookupTimeout < c.QueryTimeout {
		return errors.New("lookup timeout must be >= query timeout")
	}
	if c.MaxLookupRounds <= 0 {
		return errors.New("max lookup rounds must be positive")
	}
	if c.MaxConcurrentLookups <= 0 {
		return errors.New("max concurrent lookups must be positive")
	}
	if c.ValueTTL <= 0 || c.MaxTTL <= 0 || c.ValueTTL > c.MaxTTL {
		return errors.New("value TTL must be positive and <= max TTL")
	}
	if c.MaxValueSize <= 0 {
		return errors.New("max value size must be positive")
	}
	if c.MaxMessageSize < c.MaxValueSize {
		return errors.New("max message size must be >= max value size")
	}
	if c.EnableMaintenance {
		if c.RefreshInterval <= 0 || c.LivenessInterval <= 0 ||
			c.RepublishInterval <= 0 || c.SweepInterval <= 0 {
			return errors.New("maintenance intervals must be positive")
		}
	}
	if c.Clock == nil {
		return errors.New("clock is nil")
	}
	return nil
}

// ConfigOption 配置选项函数
type ConfigOption func(*Config)

// WithBucketSize 设置 K-桶大小
func WithBucketSize(size int) ConfigOption {
	return func(c *Config) {
		c.BucketSize = size
	}
}

// WithAlpha 设置并发查询参数
func WithAlpha(alpha int) ConfigOption {
	return func(c *Config) {
		c.Alpha = alpha
	}
}

// WithQueryTimeout 设置查询超时
func WithQueryTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.QueryTimeout = timeout
	}
}

// WithLookupTimeout 设置查找全局预算
func WithLookupTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.LookupTimeout = timeout
	}
}

// WithRetryBackoff 设置重试等待时间
func WithRetryBackoff(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryBackoff = d
	}
}

// WithValueTTL 设置默认 TTL
func WithValueTTL(ttl time.Duration) ConfigOption {
	return func(c *Config) {
		c.ValueTTL = ttl
	}
}

// WithFullValueSearch 设置值查找策略
func WithFullValueSearch(full bool) ConfigOption {
	return func(c *Config) {
		c.FullValueSearch = full
	}
}

// WithMaintenance 设置是否运行后台维护
func WithMaintenance(enabled bool) ConfigOption {
	return func(c *Config) {
		c.EnableMaintenance = enabled
	}
}

// WithListenAddr 设置对外公布地址
func WithListenAddr(addr string) ConfigOption {
	return func(c *Config) {
		c.ListenAddr = addr
	}
}

// WithSeedPeers 设置固定种子节点
func WithSeedPeers(peers []types.PeerAddr) ConfigOption {
	return func(c *Config) {
		c.SeedProvider = interfaces.StaticSeeds(peers)
	}
}

// WithSeedProvider 设置种子节点提供者
func WithSeedProvider(p interfaces.SeedProvider) ConfigOption {
	return func(c *Config) {
		c.SeedProvider = p
	}
}

// WithClock 设置时间源
func WithClock(clk clock.Clock) ConfigOption {
	return func(c *Config) {
		c.Clock = clk
	}
}

// WithRegisterer 设置 Prometheus 注册器
func WithRegisterer(reg prometheus.Registerer) ConfigOption {
	return func(c *Config) {
		c.Registerer = reg
	}
}

// WithValuePersister 设置值条目持久化后端
func WithValuePersister(p EntryPersister) ConfigOption {
	return func(c *Config) {
		c.ValuePersister = p
	}
}

// WithRoutingSnapshots 设置路由表快照存储
func WithRoutingSnapshots(s *RoutingSnapshotStore) ConfigOption {
	return func(c *Config) {
		c.RoutingSnapshots = s
	}
}

// ConfigFromUnified 从统一配置创建 DHT 配置
//
// 零值字段保留默认值。
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}

	d := cfg.DHT
	if d.BucketSize > 0 {
		c.BucketSize = d.BucketSize
	}
	if d.Alpha > 0 {
		c.Alpha = d.Alpha
	}
	c.QueryTimeout = d.QueryTimeout.Or(c.QueryTimeout)
	c.LookupTimeout = d.LookupTimeout.Or(c.LookupTimeout)
	c.ValueTTL = d.ValueTTL.Or(c.ValueTTL)
	c.MaxTTL = d.MaxTTL.Or(c.MaxTTL)
	c.RefreshInterval = d.RefreshInterval.Or(c.RefreshInterval)
	c.LivenessInterval = d.LivenessInterval.Or(c.LivenessInterval)
	c.RepublishInterval = d.RepublishInterval.Or(c.RepublishInterval)
	c.SweepInterval = d.SweepInterval.Or(c.SweepInterval)
	c.FullValueSearch = d.FullValueSearch
	c.EnableMaintenance = !d.DisableMaintenance
	c.ListenAddr = cfg.Transport.Advertise()
	if c.MaxMessageSize > cfg.Transport.MaxFrameSize && cfg.Transport.MaxFrameSize > 0 {
		c.MaxMessageSize = cfg.Transport.MaxFrameSize
	}

	var seeds []types.PeerAddr
	for _, s := range cfg.BootstrapPeers {
		pa, err := types.ParsePeerAddr(s)
		if err != nil {
			logger.Warn("忽略无效的种子节点", "peer", s, "error", err)
			continue
		}
		seeds = append(seeds, pa)
	}
	if len(seeds) > 0 {
		c.SeedProvider = interfaces.StaticSeeds(seeds)
	}

	return c
}

package storage

import (
	"time"

	"github.com/dep2p/go-dht/config"
	"github.com/dep2p/go-dht/internal/core/storage/engine"
)

// Config Storage 模块配置
type Config struct {
	// Path BadgerDB 目录（InMemory 为 false 时必需）
	Path string

	// InMemory 纯内存模式
	InMemory bool

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔
	GCInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Path:       "./data/dht.db",
		GCInterval: 10 * time.Minute,
	}
}

// ConfigFromUnified 从统一配置创建 Storage 配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	s := cfg.Storage
	c.InMemory = s.InMemory
	c.SyncWrites = s.SyncWrites
	c.GCInterval = s.GCInterval.Or(c.GCInterval)
	if s.DataDir != "" {
		c.Path = s.DBPath()
	}
	return c
}

// Validate 验证配置，过短的 GC 间隔被提升到一分钟
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return engine.ErrInvalidConfig
	}
	if c.GCInterval < time.Minute {
		c.GCInterval = time.Minute
	}
	return nil
}

// engineConfig 转换为引擎配置
func (c *Config) engineConfig() *engine.Config {
	if c.InMemory {
		return engine.InMemoryConfig()
	}
	ec := engine.DefaultConfig(c.Path)
	ec.SyncWrites = c.SyncWrites
	ec.GCInterval = c.GCInterval
	return ec
}

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录（InMemory 为 false 时必需）
	Path string

	// InMemory 纯内存模式，进程退出后数据丢失
	InMemory bool

	// SyncWrites 每次提交都 fsync
	SyncWrites bool

	// MemTableSize 内存表大小（字节）
	MemTableSize int64

	// ValueLogFileSize 值日志文件大小（字节）
	ValueLogFileSize int64

	// NumMemtables 内存表数量
	NumMemtables int

	// BlockCacheSize 块缓存大小（字节）
	BlockCacheSize int64

	// GCInterval 值日志垃圾回收间隔，0 表示禁用
	GCInterval time.Duration

	// GCDiscardRatio 值日志文件中可回收空间超过该比例时重写
	GCDiscardRatio float64
}

// DefaultConfig 返回落盘配置
//
// DHT 的值上限是 16KiB、条目数有限，尺寸比 badger 默认值小得多。
func DefaultConfig(path string) *Config {
	return &Config{
		Path:             path,
		MemTableSize:     16 << 20,
		ValueLogFileSize: 64 << 20,
		NumMemtables:     3,
		BlockCacheSize:   16 << 20,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// InMemoryConfig 返回纯内存配置
//
// 尺寸进一步缩小，便于单个测试进程里同时打开多个引擎。
func InMemoryConfig() *Config {
	return &Config{
		InMemory:         true,
		MemTableSize:     4 << 20,
		ValueLogFileSize: 4 << 20,
		NumMemtables:     2,
		BlockCacheSize:   4 << 20,
		GCDiscardRatio:   0.5,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return fmt.Errorf("%w: path required for on-disk storage", ErrInvalidConfig)
	}
	if c.MemTableSize < 1<<20 || c.ValueLogFileSize < 1<<20 {
		return fmt.Errorf("%w: table and value log sizes must be at least 1MiB", ErrInvalidConfig)
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("%w: gc discard ratio must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}

// EnsureDir 确保数据目录存在，并把 Path 规范为绝对路径
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return err
	}
	c.Path = abs
	return os.MkdirAll(c.Path, 0o750)
}

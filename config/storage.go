package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 值条目和路由表快照共用一个 BadgerDB，通过键前缀分区：
//
//	${DataDir}/
//	└── dht.db/           # BadgerDB
//	    ├── d/v/<key>     # 签名值条目
//	    └── d/r/<bucket>/<id>  # 路由表快照
type StorageConfig struct {
	// DataDir 数据目录
	DataDir string `json:"data_dir"`

	// InMemory 不落盘，重启后值和路由表丢失
	InMemory bool `json:"in_memory,omitempty"`

	// SyncWrites 每次写入都 fsync，默认关闭
	SyncWrites bool `json:"sync_writes,omitempty"`

	// GCInterval 值日志 GC 间隔，0 使用默认值
	GCInterval Duration `json:"gc_interval,omitempty"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir: "./data",
	}
}

// Validate 验证存储配置
func (c StorageConfig) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("storage: data_dir cannot be empty unless in_memory is set")
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("storage: gc_interval must not be negative")
	}
	return nil
}

// DBPath 返回 BadgerDB 目录
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "dht.db")
}

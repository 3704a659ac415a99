package config

import (
	"fmt"
	"time"
)

// DHTConfig DHT 引擎配置
//
// 零值字段表示使用引擎默认值。桶容量 K、并发度 α 和各类 TTL/阈值
// 都是部署参数，默认值取自常见 Kademlia 部署。
type DHTConfig struct {
	// BucketSize K-桶容量，同时是查找结果数量
	BucketSize int `json:"bucket_size,omitempty"`

	// Alpha 每轮并发查询数
	Alpha int `json:"alpha,omitempty"`

	// QueryTimeout 单次查询超时
	QueryTimeout Duration `json:"query_timeout,omitempty"`

	// LookupTimeout 单次查找的全局时间预算
	LookupTimeout Duration `json:"lookup_timeout,omitempty"`

	// ValueTTL Store 默认 TTL
	ValueTTL Duration `json:"value_ttl,omitempty"`

	// MaxTTL 接受的最大 TTL
	MaxTTL Duration `json:"max_ttl,omitempty"`

	// RefreshInterval 桶刷新检查间隔
	RefreshInterval Duration `json:"refresh_interval,omitempty"`

	// LivenessInterval 活性探测间隔
	LivenessInterval Duration `json:"liveness_interval,omitempty"`

	// RepublishInterval 重新发布检查间隔
	RepublishInterval Duration `json:"republish_interval,omitempty"`

	// SweepInterval 过期清理间隔
	SweepInterval Duration `json:"sweep_interval,omitempty"`

	// FullValueSearch 值查找时继续搜索以收集最新版本
	FullValueSearch bool `json:"full_value_search,omitempty"`

	// DisableMaintenance 禁用后台维护（测试/一次性工具）
	DisableMaintenance bool `json:"disable_maintenance,omitempty"`
}

// DefaultDHTConfig 返回默认 DHT 配置（全部使用引擎默认值）
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{}
}

// Validate 验证 DHT 配置
func (c DHTConfig) Validate() error {
	if c.BucketSize < 0 {
		return fmt.Errorf("dht: bucket_size must be >= 0, got %d", c.BucketSize)
	}
	if c.Alpha < 0 {
		return fmt.Errorf("dht: alpha must be >= 0, got %d", c.Alpha)
	}
	if c.BucketSize > 0 && c.Alpha > c.BucketSize {
		return fmt.Errorf("dht: alpha (%d) must not exceed bucket_size (%d)", c.Alpha, c.BucketSize)
	}
	for name, d := range map[string]Duration{
		"query_timeout":      c.QueryTimeout,
		"lookup_timeout":     c.LookupTimeout,
		"value_ttl":          c.ValueTTL,
		"max_ttl":            c.MaxTTL,
		"refresh_interval":   c.RefreshInterval,
		"liveness_interval":  c.LivenessInterval,
		"republish_interval": c.RepublishInterval,
		"sweep_interval":     c.SweepInterval,
	} {
		if time.Duration(d) < 0 {
			return fmt.Errorf("dht: %s must not be negative", name)
		}
	}
	if c.MaxTTL > 0 && c.ValueTTL > c.MaxTTL {
		return fmt.Errorf("dht: value_ttl (%s) exceeds max_ttl (%s)", c.ValueTTL, c.MaxTTL)
	}
	return nil
}

package main

import (
	"os"
	"strings"

	"github.com/dep2p/go-dht/config"
)

// 环境变量（均使用 DHT_ 前缀）
const (
	envPrefix         = "DHT_"
	envListenAddr     = "LISTEN_ADDR"
	envAdvertiseAddr  = "ADVERTISE_ADDR"
	envBootstrapPeers = "BOOTSTRAP_PEERS"
	envDataDir        = "DATA_DIR"
	envInMemory       = "IN_MEMORY"
	envKeyFile        = "KEY_FILE"
	envMetricsAddr    = "METRICS_ADDR"
	envLogLevel       = "LOG_LEVEL"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// loadConfig 加载配置文件，未指定时返回默认配置
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewConfig(), nil
	}
	return config.LoadFile(path)
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
func applyEnvOverrides(cfg *config.Config) {
	if v := os.Getenv(envPrefix + envListenAddr); v != "" {
		cfg.Transport.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + envAdvertiseAddr); v != "" {
		cfg.Transport.AdvertiseAddr = v
	}

	// DHT_BOOTSTRAP_PEERS (逗号分隔)
	if v := os.Getenv(envPrefix + envBootstrapPeers); v != "" {
		cfg.BootstrapPeers = splitAndTrim(v, ",")
	}

	if v := os.Getenv(envPrefix + envDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(envPrefix + envInMemory); v != "" {
		cfg.Storage.InMemory = parseBool(v)
	}
	if v := os.Getenv(envPrefix + envKeyFile); v != "" {
		cfg.Identity.KeyFile = v
		cfg.Identity.AutoGenerate = true
	}
	if v := os.Getenv(envPrefix + envMetricsAddr); v != "" {
		cfg.Diagnostics.MetricsAddr = v
	}
}

// getLogLevelFromEnv 从环境变量获取日志级别
func getLogLevelFromEnv() string {
	return os.Getenv(envPrefix + envLogLevel)
}

// ============================================================================
//                              辅助函数
// ============================================================================

// parseBool 解析布尔值字符串
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

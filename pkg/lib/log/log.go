// Package log 提供按组件命名的 slog logger
//
// 各包在初始化时声明 logger，真正的 handler 在每次调用时从
// slog.Default() 取得，因此命令行解析完参数后再调整级别或格式
// 对所有已声明的 logger 生效。
//
//	var logger = log.Logger("discovery/dht")
//	logger.Info("lookup done", "rounds", n)
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

func init() {
	Setup(os.Stderr, slog.LevelInfo, false)
}

// Setup 替换全局 handler，json 为 true 时输出 JSON 行
func Setup(w io.Writer, level slog.Level, json bool) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if json {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// SetLevel 以文本格式输出到 stderr
func SetLevel(level slog.Level) {
	Setup(os.Stderr, level, false)
}

// ParseLevel 解析 debug/info/warn/error，大小写不敏感，无法识别时为 info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LazyLogger 组件 logger，每条日志都带 component 属性
type LazyLogger struct {
	component string
}

// Logger 返回组件 logger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) log(level slog.Level, msg string, args []any) {
	slog.Default().With("component", l.component).Log(context.Background(), level, msg, args...)
}

func (l *LazyLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }

func (l *LazyLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args) }

func (l *LazyLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args) }

func (l *LazyLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

// TestLazyLogger_FollowsSetup 测试已声明的 logger 跟随全局 handler
func TestLazyLogger_FollowsSetup(t *testing.T) {
	t.Cleanup(func() { Setup(os.Stderr, slog.LevelInfo, false) })

	l := Logger("test/comp")
	var buf bytes.Buffer

	Setup(&buf, slog.LevelWarn, true)
	l.Info("丢弃")
	l.Warn("保留", "peer", "abc")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "保留", rec["msg"])
	assert.Equal(t, "test/comp", rec["component"])
	assert.Equal(t, "abc", rec["peer"])

	buf.Reset()
	Setup(&buf, slog.LevelDebug, false)
	l.Debug("文本格式")
	assert.Contains(t, buf.String(), "component=test/comp")

	t.Log("✅ 组件 logger 使用最新的 handler")
}

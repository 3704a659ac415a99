package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/pkg/interfaces"
)

func echoHandler() interfaces.QueryHandler {
	return interfaces.QueryHandlerFunc(func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})
}

func newServer(t *testing.T, h interfaces.QueryHandler) *Transport {
	t.Helper()
	srv := New(Config{HandlerTimeout: time.Second})
	require.NoError(t, srv.Listen("127.0.0.1:0", h))
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

// ============================================================================
// 帧编解码测试
// ============================================================================

// TestFrame_RoundTrip 测试帧往返
func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, writeFrame(w, []byte("hello"), 1024))
	require.NoError(t, writeFrame(w, nil, 1024))

	r := bufio.NewReader(&buf)
	got, err := readFrame(r, 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = readFrame(r, 1024)
	require.NoError(t, err)
	assert.Empty(t, got)

	t.Log("✅ 帧往返正确")
}

// TestFrame_TooLarge 测试超限帧
func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	err := writeFrame(w, make([]byte, 100), 10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	require.NoError(t, writeFrame(w, make([]byte, 100), 1024))
	_, err = readFrame(bufio.NewReader(&buf), 10)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	t.Log("✅ 超限帧被拒绝")
}

// ============================================================================
// 传输测试
// ============================================================================

// TestTransport_SendQuery 测试请求/响应
func TestTransport_SendQuery(t *testing.T) {
	srv := newServer(t, echoHandler())
	client := New(Config{})
	defer client.Close()

	resp, err := client.SendQuery(context.Background(), srv.Addr(), []byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("echo:ping"), resp)

	t.Log("✅ TCP 请求/响应正确")
}

// TestTransport_SourceAddress 测试处理器收到来源地址
func TestTransport_SourceAddress(t *testing.T) {
	var from string
	srv := newServer(t, interfaces.QueryHandlerFunc(func(_ context.Context, f string, p []byte) ([]byte, error) {
		from = f
		return p, nil
	}))
	client := New(Config{})
	defer client.Close()

	_, err := client.SendQuery(context.Background(), srv.Addr(), []byte("x"), time.Second)
	require.NoError(t, err)

	host, _, err := net.SplitHostPort(from)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)

	t.Log("✅ 来源地址正确")
}

// TestTransport_Timeout 测试响应超时
func TestTransport_Timeout(t *testing.T) {
	srv := newServer(t, interfaces.QueryHandlerFunc(func(ctx context.Context, _ string, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	client := New(Config{})
	defer client.Close()

	start := time.Now()
	_, err := client.SendQuery(context.Background(), srv.Addr(), []byte("slow"), 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Less(t, time.Since(start), 900*time.Millisecond)

	t.Log("✅ 超时返回 DeadlineExceeded")
}

// TestTransport_Unreachable 测试不可达地址
func TestTransport_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	client := New(Config{})
	defer client.Close()

	_, err = client.SendQuery(context.Background(), addr, []byte("x"), time.Second)
	assert.ErrorIs(t, err, interfaces.ErrUnreachable)

	t.Log("✅ 不可达地址返回 ErrUnreachable")
}

// TestTransport_HandlerError 测试处理器报错时断开连接
func TestTransport_HandlerError(t *testing.T) {
	srv := newServer(t, interfaces.QueryHandlerFunc(func(context.Context, string, []byte) ([]byte, error) {
		return nil, errors.New("bad request")
	}))
	client := New(Config{})
	defer client.Close()

	_, err := client.SendQuery(context.Background(), srv.Addr(), []byte("x"), time.Second)
	assert.Error(t, err)

	t.Log("✅ 处理器错误导致请求失败")
}

// TestTransport_Close 测试关闭
func TestTransport_Close(t *testing.T) {
	srv := New(Config{})
	require.NoError(t, srv.Listen("127.0.0.1:0", echoHandler()))
	assert.ErrorIs(t, srv.Listen("127.0.0.1:0", echoHandler()), ErrAlreadyListening)

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())

	_, err := srv.SendQuery(context.Background(), "127.0.0.1:1", nil, time.Second)
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.ErrorIs(t, srv.Listen("127.0.0.1:0", echoHandler()), ErrTransportClosed)

	t.Log("✅ 关闭后拒绝使用")
}

// TestTransport_NilHandler 测试空处理器
func TestTransport_NilHandler(t *testing.T) {
	srv := New(Config{})
	defer srv.Close()
	assert.ErrorIs(t, srv.Listen("127.0.0.1:0", nil), ErrNoHandler)
}

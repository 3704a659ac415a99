// Package tcp 提供基于 TCP 的请求/响应传输
//
// 每次 SendQuery 建立一条短连接，写入一帧请求，读取一帧响应后关闭。
// 服务端在同一连接上可以连续处理多个请求，直到对端关闭或空闲超时。
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/log"
)

var logger = log.Logger("transport/tcp")

// Config TCP 传输配置
type Config struct {
	// DialTimeout 拨号超时上限
	DialTimeout time.Duration

	// MaxFrameSize 单帧最大字节数
	MaxFrameSize int

	// IdleTimeout 服务端连接空闲超时
	IdleTimeout time.Duration

	// HandlerTimeout 单个入站请求的处理超时
	HandlerTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout:    5 * time.Second,
		MaxFrameSize:   1 << 20,
		IdleTimeout:    30 * time.Second,
		HandlerTimeout: 10 * time.Second,
	}
}

// Transport TCP 传输
type Transport struct {
	config Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建 TCP 传输，零值字段使用默认值
func New(cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		config: cfg,
		conns:  make(map[net.Conn]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ============================================================================
//                              出站
// ============================================================================

// SendQuery 向 addr 发送请求并等待响应
//
// 超时返回 context.DeadlineExceeded；连接失败包装 interfaces.ErrUnreachable。
func (t *Transport) SendQuery(ctx context.Context, addr string, payload []byte, timeout time.Duration) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dialer := net.Dialer{Timeout: t.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", interfaces.ErrUnreachable, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// ctx 取消时立即打断阻塞的读写
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := writeFrame(bufio.NewWriter(conn), payload, t.config.MaxFrameSize); err != nil {
		return nil, preferCtxErr(ctx, err)
	}
	resp, err := readFrame(bufio.NewReader(conn), t.config.MaxFrameSize)
	if err != nil {
		return nil, preferCtxErr(ctx, err)
	}
	return resp, nil
}

// preferCtxErr ctx 已结束时返回 ctx 的错误，读写超时统一为 DeadlineExceeded
func preferCtxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

// ============================================================================
//                              入站
// ============================================================================

// Listen 在 addr 上监听并把请求交给 handler
//
// addr 端口为 0 时由系统分配，实际地址通过 Addr() 获取。
func (t *Transport) Listen(addr string, handler interfaces.QueryHandler) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	if handler == nil {
		return ErrNoHandler
	}

	t.mu.Lock()
	if t.listener != nil {
		t.mu.Unlock()
		return ErrAlreadyListening
	}
	var lc net.ListenConfig
	l, err := lc.Listen(t.ctx, "tcp", addr)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("监听失败: %w", err)
	}
	t.listener = l
	t.mu.Unlock()

	logger.Info("TCP 传输开始监听", "addr", l.Addr().String())

	t.wg.Add(1)
	go t.acceptLoop(l, handler)
	return nil
}

// Addr 返回实际监听地址，未监听时返回空字符串
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *Transport) acceptLoop(l net.Listener, handler interfaces.QueryHandler) {
	defer t.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("接受连接失败", "error", err)
			continue
		}

		if !t.track(conn) {
			_ = conn.Close()
			return
		}
		t.wg.Add(1)
		go t.serveConn(conn, handler)
	}
}

// serveConn 在一条连接上循环处理请求
func (t *Transport) serveConn(conn net.Conn, handler interfaces.QueryHandler) {
	defer t.wg.Done()
	defer t.untrack(conn)

	from := conn.RemoteAddr().String()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.config.IdleTimeout))
		req, err := readFrame(r, t.config.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !t.closed.Load() {
				logger.Debug("读取请求失败", "from", from, "error", err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(t.ctx, t.config.HandlerTimeout)
		resp, err := handler.HandleQuery(ctx, from, req)
		cancel()
		if err != nil {
			// 无法解析的请求不回复，直接断开
			logger.Debug("处理请求失败", "from", from, "error", err)
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(t.config.HandlerTimeout))
		if err := writeFrame(w, resp, t.config.MaxFrameSize); err != nil {
			logger.Debug("写入响应失败", "from", from, "error", err)
			return
		}
	}
}

func (t *Transport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed.Load() {
		return false
	}
	t.conns[conn] = struct{}{}
	return true
}

func (t *Transport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}

// ConnCount 返回当前入站连接数
func (t *Transport) ConnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Close 关闭监听器和所有入站连接
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()

	t.mu.Lock()
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}
	for c := range t.conns {
		_ = c.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	logger.Debug("TCP 传输已关闭")
	return err
}

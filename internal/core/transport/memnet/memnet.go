// Package memnet 提供进程内模拟网络
//
// 每个端点以地址字符串注册一个 QueryHandler，发往该地址的请求在调用方
// goroutine 中直接交给处理器。支持统一延迟、指定地址下线（请求挂起至超时）
// 以及让接下来 N 次请求失败，用于测试重试和驱逐逻辑。
package memnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dep2p/go-dht/pkg/interfaces"
)

// ErrInjectedFailure 注入的故障
var ErrInjectedFailure = errors.New("memnet: injected failure")

// Network 模拟网络
type Network struct {
	mu       sync.RWMutex
	handlers map[string]interfaces.QueryHandler
	down     map[string]bool
	failNext map[string]int
	calls    map[string]int
	latency  time.Duration
}

// New 创建空网络
func New() *Network {
	return &Network{
		handlers: make(map[string]interfaces.QueryHandler),
		down:     make(map[string]bool),
		failNext: make(map[string]int),
		calls:    make(map[string]int),
	}
}

// Register 注册地址的处理器，返回该地址的出站端点
func (n *Network) Register(addr string, h interfaces.QueryHandler) *Endpoint {
	n.mu.Lock()
	n.handlers[addr] = h
	n.mu.Unlock()
	return n.Endpoint(addr)
}

// Endpoint 返回以 addr 为来源地址的出站端点，不注册处理器
func (n *Network) Endpoint(addr string) *Endpoint {
	return &Endpoint{net: n, addr: addr}
}

// Unregister 移除地址，之后的请求返回 ErrUnreachable
func (n *Network) Unregister(addr string) {
	n.mu.Lock()
	delete(n.handlers, addr)
	n.mu.Unlock()
}

// SetLatency 设置单向请求延迟
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	n.latency = d
	n.mu.Unlock()
}

// SetDown 设置地址下线：请求不会被投递，调用方等待至超时
func (n *Network) SetDown(addr string, down bool) {
	n.mu.Lock()
	if down {
		n.down[addr] = true
	} else {
		delete(n.down, addr)
	}
	n.mu.Unlock()
}

// FailNext 让发往 addr 的接下来 count 次请求立即失败
func (n *Network) FailNext(addr string, count int) {
	n.mu.Lock()
	n.failNext[addr] = count
	n.mu.Unlock()
}

// Calls 返回发往 addr 的请求次数（包括失败的请求）
func (n *Network) Calls(addr string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.calls[addr]
}

// Len 返回已注册的地址数
func (n *Network) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}

// route 记录调用并决定投递方式
func (n *Network) route(addr string) (interfaces.QueryHandler, time.Duration, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[addr]++
	if left := n.failNext[addr]; left > 0 {
		n.failNext[addr] = left - 1
		return nil, 0, false, ErrInjectedFailure
	}
	h, ok := n.handlers[addr]
	if !ok {
		return nil, 0, false, fmt.Errorf("%w: %s", interfaces.ErrUnreachable, addr)
	}
	return h, n.latency, n.down[addr], nil
}

// Endpoint 模拟网络上的一个出站端点
type Endpoint struct {
	net  *Network
	addr string
}

var _ interfaces.Transport = (*Endpoint)(nil)

// Addr 返回端点地址
func (e *Endpoint) Addr() string {
	return e.addr
}

// SendQuery 实现 interfaces.Transport
func (e *Endpoint) SendQuery(ctx context.Context, addr string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	h, latency, down, err := e.net.route(addr)
	if err != nil {
		return nil, err
	}
	if down {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	req := make([]byte, len(payload))
	copy(req, payload)
	resp, err := h.HandleQuery(ctx, e.addr, req)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, nil
}

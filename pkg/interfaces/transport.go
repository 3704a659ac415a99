package interfaces

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -destination=mocks/transport.go -package=mocks . Transport,SeedProvider

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("transport: closed")

// ErrUnreachable 目标地址不可达
var ErrUnreachable = errors.New("transport: peer unreachable")

// Transport 点对点请求/响应传输
//
// 每次调用只有一个在途请求，并发通过多次调用实现。
// 超时应返回 context.DeadlineExceeded（或包装它的错误）。
type Transport interface {
	// SendQuery 向 addr 发送 payload 并等待响应
	SendQuery(ctx context.Context, addr string, payload []byte, timeout time.Duration) ([]byte, error)
}

// QueryHandler 入站请求处理者
//
// 传输层收到请求后调用，返回值作为响应发回。
type QueryHandler interface {
	HandleQuery(ctx context.Context, from string, payload []byte) ([]byte, error)
}

// QueryHandlerFunc 函数适配器
type QueryHandlerFunc func(ctx context.Context, from string, payload []byte) ([]byte, error)

// HandleQuery 实现 QueryHandler
func (f QueryHandlerFunc) HandleQuery(ctx context.Context, from string, payload []byte) ([]byte, error) {
	return f(ctx, from, payload)
}

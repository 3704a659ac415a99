package dht

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              查询结果
// ============================================================================

// QueryStatus 查询结果状态
type QueryStatus int

const (
	// QueryOK 收到有效响应
	QueryOK QueryStatus = iota
	// QueryTimeout 重试后仍超时
	QueryTimeout
	// QueryTransportError 网络错误或响应无效
	QueryTransportError
)

// String 返回状态名称
func (s QueryStatus) String() string {
	switch s {
	case QueryOK:
		return "ok"
	case QueryTimeout:
		return "timeout"
	case QueryTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// QueryResult 单次查询的统一结果
type QueryResult struct {
	// Status 结果状态
	Status QueryStatus

	// Response 响应消息（仅 QueryOK）
	Response *Message

	// RTT 成功那次尝试的往返时间
	RTT time.Duration

	// Attempts 尝试次数
	Attempts int

	// Err 失败原因（包装 ErrTimeout 或 ErrTransport）
	Err error
}

// OK 是否成功
func (r QueryResult) OK() bool {
	return r.Status == QueryOK
}

// ============================================================================
//                              查询分发器
// ============================================================================

// Dispatcher 将引擎请求转换为传输调用
//
// 每次尝试使用固定超时，超时或网络错误后最多重试一次。
// 不解释响应内容，只检查响应与请求匹配（请求 ID、类型、发送者、PING 随机数）。
type Dispatcher struct {
	transport interfaces.Transport
	self      types.PeerAddr
	clock     clock.Clock
	metrics   *metrics

	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	maxMsgSize   int
}

// NewDispatcher 创建查询分发器
func NewDispatcher(transport interfaces.Transport, self types.PeerAddr, cfg *Config, m *metrics) *Dispatcher {
	if m == nil {
		m = newMetrics()
	}
	return &Dispatcher{
		transport:    transport,
		self:         self,
		clock:        cfg.Clock,
		metrics:      m,
		timeout:      cfg.QueryTimeout,
		retries:      cfg.QueryRetries,
		retryBackoff: cfg.RetryBackoff,
		maxMsgSize:   cfg.MaxMessageSize,
	}
}

// Ping 发送 PING，PONG 必须回显随机数
func (d *Dispatcher) Ping(ctx context.Context, peer types.PeerAddr) QueryResult {
	return d.ping(ctx, peer, d.retries)
}

func (d *Dispatcher) ping(ctx context.Context, peer types.PeerAddr, retries int) QueryResult {
	nonce := randomNonce()
	return d.call(ctx, peer, NewPingRequest(d.self, nonce), retries, func(resp *Message) error {
		if resp.Nonce != nonce {
			return ErrNonceMismatch
		}
		return nil
	})
}

// FindNode 发送 FIND_NODE
func (d *Dispatcher) FindNode(ctx context.Context, peer types.PeerAddr, target types.NodeID) QueryResult {
	return d.call(ctx, peer, NewFindNodeRequest(d.self, target), d.retries, nil)
}

// FindValue 发送 FIND_VALUE
func (d *Dispatcher) FindValue(ctx context.Context, peer types.PeerAddr, key types.NodeID) QueryResult {
	return d.call(ctx, peer, NewFindValueRequest(d.self, key), d.retries, nil)
}

// Store 发送 STORE
func (d *Dispatcher) Store(ctx context.Context, peer types.PeerAddr, entry *ValueEntry) QueryResult {
	return d.call(ctx, peer, NewStoreRequest(d.self, entry), d.retries, nil)
}

// Pinger 返回供路由表驱逐探测使用的 Pinger
//
// 路由表自己控制探测次数，这里不再重试。
func (d *Dispatcher) Pinger() Pinger {
	return PingerFunc(func(ctx context.Context, peer types.PeerAddr) error {
		res := d.ping(ctx, peer, 0)
		return res.Err
	})
}

// call 发送请求并等待匹配的响应
func (d *Dispatcher) call(ctx context.Context, peer types.PeerAddr, req *Message, retries int, check func(*Message) error) QueryResult {
	payload, err := req.Encode()
	if err != nil {
		return d.finish(req.Type, QueryResult{
			Status: QueryTransportError,
			Err:    fmt.Errorf("%w: encode: %v", ErrTransport, err),
		})
	}

	var (
		result   QueryResult
		attempts int
	)
	op := func() error {
		attempts++
		if attempts > 1 {
			d.metrics.retries.Inc()
			logger.Debug("重试查询", "type", req.Type, "peer", peer.ID.ShortString(), "attempt", attempts)
		}

		result = d.attempt(ctx, peer, req, payload, check)
		switch {
		case result.Status == QueryOK:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(result.Err)
		case errors.Is(result.Err, ErrInvalidResponse),
			errors.Is(result.Err, ErrSenderMismatch),
			errors.Is(result.Err, ErrNonceMismatch):
			// 对端在线但响应不可信，重试没有意义
			return backoff.Permanent(result.Err)
		default:
			return result.Err
		}
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(d.retryBackoff)
	b = backoff.WithMaxRetries(b, uint64(max(retries, 0)))
	b = backoff.WithContext(b, ctx)
	_ = backoff.Retry(op, b)

	result.Attempts = attempts
	return d.finish(req.Type, result)
}

// attempt 单次尝试
func (d *Dispatcher) attempt(ctx context.Context, peer types.PeerAddr, req *Message, payload []byte, check func(*Message) error) QueryResult {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.clock.Now()
	raw, err := d.transport.SendQuery(qctx, peer.Addr, payload, d.timeout)
	rtt := d.clock.Since(start)
	if err != nil {
		if isTimeout(err) {
			return QueryResult{Status: QueryTimeout, Err: fmt.Errorf("%w: %s: %v", ErrTimeout, peer.Addr, err)}
		}
		return QueryResult{Status: QueryTransportError, Err: fmt.Errorf("%w: %s: %v", ErrTransport, peer.Addr, err)}
	}

	resp, err := DecodeMessage(raw, d.maxMsgSize)
	if err != nil {
		return QueryResult{Status: QueryTransportError, Err: err}
	}
	if err := d.match(peer, req, resp); err != nil {
		return QueryResult{Status: QueryTransportError, Err: err}
	}
	if check != nil {
		if err := check(resp); err != nil {
			return QueryResult{Status: QueryTransportError, Err: err}
		}
	}
	return QueryResult{Status: QueryOK, Response: resp, RTT: rtt}
}

// match 检查响应与请求匹配
func (d *Dispatcher) match(peer types.PeerAddr, req, resp *Message) error {
	if resp.RequestID != req.RequestID {
		return fmt.Errorf("%w: request id mismatch", ErrInvalidResponse)
	}
	if !peer.ID.IsEmpty() && resp.Sender.ID != peer.ID {
		return fmt.Errorf("%w: want %s, got %s", ErrSenderMismatch, peer.ID.ShortString(), resp.Sender.ID.ShortString())
	}
	if resp.Type == MessageTypeError {
		if resp.Error == ErrRateLimitExceeded.Error() {
			return fmt.Errorf("%w: %w", ErrTransport, ErrRateLimitExceeded)
		}
		return fmt.Errorf("%w: remote error: %s", ErrTransport, resp.Error)
	}
	if resp.Type != req.Type.ResponseType() {
		return fmt.Errorf("%w: unexpected %s for %s", ErrInvalidResponse, resp.Type, req.Type)
	}
	return nil
}

func (d *Dispatcher) finish(t MessageType, r QueryResult) QueryResult {
	d.metrics.queries.WithLabelValues(t.String(), r.Status.String()).Inc()
	if r.Status == QueryOK {
		d.metrics.queryRTT.Observe(r.RTT.Seconds())
	}
	return r
}

// isTimeout 判断是否为超时错误
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

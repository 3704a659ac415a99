package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-dht/pkg/types"
)

const (
	// limiterCacheSize 同时跟踪的来源数量
	limiterCacheSize = 4096

	// limiterIdleTTL 来源空闲多久后丢弃其限流器
	limiterIdleTTL = 10 * time.Minute
)

// Handler 入站请求处理器
//
// 用本地路由表和值存储回答请求。安全措施：
//  1. 每个来源一个令牌桶限流器
//  2. 消息结构在解码时校验
//  3. 发送者和返回的节点都是签名记录，解码时验证
//  4. 发送者只以未验证状态进入路由表，不触发驱逐
type Handler struct {
	// dht DHT 实例
	dht *DHT

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
}

// NewHandler 创建协议处理器
func NewHandler(dht *DHT) *Handler {
	return &Handler{
		dht:      dht,
		limit:    rate.Limit(dht.config.InboundRate),
		burst:    dht.config.InboundBurst,
		limiters: expirable.NewLRU[string, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL),
	}
}

// allow 检查来源是否超过速率
func (h *Handler) allow(source string) bool {
	if h.limit <= 0 {
		return true
	}

	h.mu.Lock()
	l, ok := h.limiters.Get(source)
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
	}
	// 重新写入以刷新过期时间
	h.limiters.Add(source, l)
	h.mu.Unlock()

	return l.Allow()
}

// HandleQuery 处理一条入站请求并返回编码后的响应
//
// from 是传输层看到的来源地址，可以为空。
func (h *Handler) HandleQuery(ctx context.Context, from string, payload []byte) ([]byte, error) {
	self := h.dht.self

	req, err := DecodeMessage(payload, h.dht.config.MaxMessageSize)
	if err != nil {
		h.dht.metrics.inbound.WithLabelValues("UNKNOWN", "malformed").Inc()
		return nil, err
	}
	if !req.Type.IsRequest() {
		h.dht.metrics.inbound.WithLabelValues(req.Type.String(), "unexpected").Inc()
		return NewErrorResponse(req.RequestID, self, "unexpected message type").Encode()
	}

	source := from
	if source == "" {
		source = req.Sender.ID.String()
	}
	if !h.allow(source) {
		h.dht.metrics.inbound.WithLabelValues(req.Type.String(), "rate_limited").Inc()
		logger.Debug("入站请求被限流", "source", source, "type", req.Type)
		return NewErrorResponse(req.RequestID, self, ErrRateLimitExceeded.Error()).Encode()
	}

	h.noteSender(req.Sender)

	var resp *Message
	switch req.Type {
	case MessageTypePing:
		resp = NewPongResponse(req, self)
	case MessageTypeFindNode:
		resp = h.handleFindNode(req)
	case MessageTypeFindValue:
		resp = h.handleFindValue(req)
	case MessageTypeStore:
		resp = h.handleStore(req)
	}

	h.dht.metrics.inbound.WithLabelValues(req.Type.String(), "ok").Inc()
	return resp.Encode()
}

// noteSender 入站请求刷新路由表中的发送者
//
// 发送者记录已在解码时验证。已知节点只接受更高版本的记录改写地址，
// 请求来自表中原有地址时才刷新活性。
func (h *Handler) noteSender(sender types.PeerAddr) {
	if sender.ID == h.dht.self.ID || sender.Addr == "" {
		return
	}
	rt := h.dht.routingTable
	if p, ok := rt.Get(sender.ID); ok {
		rt.UpdateRecord(sender)
		if p.Addr == sender.Addr {
			rt.MarkAlive(sender.ID, 0)
		}
		return
	}
	rt.TryInsert(types.PeerFromAddr(sender))
}

// closestFor 返回距离 target 最近的 K 个节点，不包含请求者
//
// 没有签名记录的节点不返回，对端会拒绝整个响应。
func (h *Handler) closestFor(target types.NodeID, requester types.NodeID) []types.PeerAddr {
	k := h.dht.config.BucketSize
	peers := h.dht.routingTable.Closest(target, 2*k)

	out := make([]types.PeerAddr, 0, k)
	for _, p := range peers {
		if p.ID == requester || p.Addr == "" || len(p.Signature) == 0 {
			continue
		}
		out = append(out, p.AddrInfo())
		if len(out) >= k {
			break
		}
	}
	return out
}

// handleFindNode 处理 FIND_NODE 请求
func (h *Handler) handleFindNode(req *Message) *Message {
	return NewFindNodeResponse(req, h.dht.self, h.closestFor(*req.Target, req.Sender.ID))
}

// handleFindValue 处理 FIND_VALUE 请求
func (h *Handler) handleFindValue(req *Message) *Message {
	key := *req.Key
	if entry, err := h.dht.values.Get(key); err == nil {
		return NewFindValueResponse(req, h.dht.self, entry, nil)
	}
	return NewFindValueResponse(req, h.dht.self, nil, h.closestFor(key, req.Sender.ID))
}

// handleStore 处理 STORE 请求
func (h *Handler) handleStore(req *Message) *Message {
	res, err := h.dht.values.Put(req.Entry)
	if err != nil {
		h.dht.metrics.stores.WithLabelValues("rejected").Inc()
		logger.Debug("拒绝 STORE", "sender", req.Sender.ID.ShortString(), "error", err)
		return NewStoreResponse(req, h.dht.self, false, fmt.Sprintf("store rejected: %v", err))
	}
	if res.Stored {
		h.dht.metrics.stores.WithLabelValues("stored").Inc()
	} else {
		h.dht.metrics.stores.WithLabelValues("stale").Inc()
	}
	return NewStoreResponse(req, h.dht.self, res.Stored, "")
}

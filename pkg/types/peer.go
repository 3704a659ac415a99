package types

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
//                              Liveness - 活性状态
// ============================================================================

// Liveness 节点活性状态
type Liveness int

const (
	// LivenessUnknown 尚未验证
	LivenessUnknown Liveness = iota
	// LivenessAlive 最近一次查询成功
	LivenessAlive
	// LivenessStale 有连续失败但未达到判死阈值
	LivenessStale
	// LivenessDead 连续失败达到阈值，等待驱逐
	LivenessDead
)

// String 返回活性状态名称
func (l Liveness) String() string {
	switch l {
	case LivenessUnknown:
		return "unknown"
	case LivenessAlive:
		return "alive"
	case LivenessStale:
		return "stale"
	case LivenessDead:
		return "dead"
	default:
		return "invalid"
	}
}

// ============================================================================
//                              PeerAddr - 节点地址
// ============================================================================

// PeerAddr 节点标识与网络地址
//
// 由种子提供者和 FIND_NODE 响应返回。在线上传输时它是签名的节点记录：
// PublicKey 派生出 ID，Signature 覆盖 (PublicKey, Addr, Version)。
// 种子配置只需要 ID 和地址。
type PeerAddr struct {
	ID   NodeID `json:"id"`
	Addr string `json:"addr"`

	// PublicKey 节点 Ed25519 公钥
	PublicKey []byte `json:"public_key,omitempty"`

	// Version 记录版本，地址变化时递增
	Version uint64 `json:"version,omitempty"`

	// Signature 节点私钥对记录的签名
	Signature []byte `json:"signature,omitempty"`
}

// Signed 是否携带签名
func (p PeerAddr) Signed() bool {
	return len(p.Signature) > 0
}

// String 返回 "id@addr" 格式
func (p PeerAddr) String() string {
	return p.ID.String() + "@" + p.Addr
}

// ParsePeerAddr 解析 "id@addr" 格式的节点地址
func ParsePeerAddr(s string) (PeerAddr, error) {
	idPart, addr, ok := strings.Cut(s, "@")
	if !ok || addr == "" {
		return PeerAddr{}, fmt.Errorf("invalid peer address %q: want id@addr", s)
	}
	id, err := ParseNodeID(idPart)
	if err != nil {
		return PeerAddr{}, fmt.Errorf("invalid peer address %q: %w", s, err)
	}
	return PeerAddr{ID: id, Addr: addr}, nil
}

// ============================================================================
//                              Peer - 路由表节点快照
// ============================================================================

// Peer 路由表中的节点
//
// 路由表按值保存 Peer，对外只返回副本。
type Peer struct {
	// ID 节点标识
	ID NodeID

	// Addr 网络地址
	Addr string

	// LastSeen 最近一次确认存活的时间
	LastSeen time.Time

	// Liveness 活性状态
	Liveness Liveness

	// RTT 往返延迟估计（EWMA）
	RTT time.Duration

	// Failures 连续失败次数
	Failures int

	// PublicKey, Version, Signature 节点签名记录，未签名时为空
	PublicKey []byte
	Version   uint64
	Signature []byte
}

// AddrInfo 返回节点地址（含签名记录）
func (p Peer) AddrInfo() PeerAddr {
	return PeerAddr{
		ID:        p.ID,
		Addr:      p.Addr,
		PublicKey: p.PublicKey,
		Version:   p.Version,
		Signature: p.Signature,
	}
}

// PeerFromAddr 从地址创建未验证的 Peer
func PeerFromAddr(a PeerAddr) Peer {
	return Peer{
		ID:        a.ID,
		Addr:      a.Addr,
		Liveness:  LivenessUnknown,
		PublicKey: a.PublicKey,
		Version:   a.Version,
		Signature: a.Signature,
	}
}

// SetRecord 用地址的签名记录覆盖本节点的地址和记录
func (p *Peer) SetRecord(a PeerAddr) {
	p.Addr = a.Addr
	p.PublicKey = a.PublicKey
	p.Version = a.Version
	p.Signature = a.Signature
}

// NewerRecord 判断 a 是否应取代当前记录
//
// 签名记录取代未签名记录；两者都签名时版本高者胜。
func (p Peer) NewerRecord(a PeerAddr) bool {
	if !a.Signed() || a.Addr == "" {
		return false
	}
	return len(p.Signature) == 0 || a.Version > p.Version
}

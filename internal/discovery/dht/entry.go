package dht

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              常量定义
// ============================================================================

// EntryPayloadType 签名载荷类型标识
var EntryPayloadType = []byte("/dht/value-entry/1")

// ============================================================================
//                              ValueEntry 定义
// ============================================================================

// ValueEntry 签名的值条目
//
// Key 由 (发布者, Name, Index) 派生，只有发布者能为该键产生有效签名。
// 条目在 CreatedAt + TTL 之后逻辑上不存在。
type ValueEntry struct {
	// Key 存储键
	Key types.NodeID `json:"key"`

	// Name 发布者命名空间内的名称
	Name string `json:"name"`

	// Index 同名条目的索引
	Index uint32 `json:"index"`

	// Value 值
	Value []byte `json:"value"`

	// Publisher 发布者 Ed25519 公钥
	Publisher []byte `json:"publisher"`

	// Signature 签名
	Signature []byte `json:"signature"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at"`

	// TTL 生存时间
	TTL time.Duration `json:"ttl"`

	// Seq 序列号（重新发布时递增）
	Seq uint64 `json:"seq"`
}

// PublisherID 返回发布者 NodeID
func (e *ValueEntry) PublisherID() types.NodeID {
	return types.NodeIDFromPublicKey(e.Publisher)
}

// ExpiresAt 返回过期时间
func (e *ValueEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// IsExpired 检查在 now 时刻是否已过期
func (e *ValueEntry) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Remaining 返回剩余生存时间
func (e *ValueEntry) Remaining(now time.Time) time.Duration {
	return e.ExpiresAt().Sub(now)
}

// Clone 深拷贝
func (e *ValueEntry) Clone() *ValueEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Value = append([]byte(nil), e.Value...)
	c.Publisher = append([]byte(nil), e.Publisher...)
	c.Signature = append([]byte(nil), e.Signature...)
	return &c
}

// String 返回简短描述
func (e *ValueEntry) String() string {
	return fmt.Sprintf("entry{key=%s name=%q idx=%d seq=%d ttl=%s}",
		e.Key.ShortString(), e.Name, e.Index, e.Seq, e.TTL)
}

// SigningBytes 返回待签名的规范编码
//
// 格式（大端序）：
//
//	[payload_type |
//	 key(32) |
//	 name_len(4) | name |
//	 index(4) |
//	 value_len(4) | value |
//	 publisher_len(2) | publisher |
//	 created_at(8, unix ns) | ttl(8, ns) | seq(8)]
func (e *ValueEntry) SigningBytes() []byte {
	size := len(EntryPayloadType)
	size += types.NodeIDSize
	size += 4 + len(e.Name)
	size += 4
	size += 4 + len(e.Value)
	size += 2 + len(e.Publisher)
	size += 8 + 8 + 8

	buf := make([]byte, 0, size)
	buf = append(buf, EntryPayloadType...)
	buf = append(buf, e.Key[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Name)))
	buf = append(buf, e.Name...)
	buf = binary.BigEndian.AppendUint32(buf, e.Index)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Value)))
	buf = append(buf, e.Value...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Publisher)))
	buf = append(buf, e.Publisher...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.CreatedAt.UnixNano()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(e.TTL))
	buf = binary.BigEndian.AppendUint64(buf, e.Seq)
	return buf
}

// ============================================================================
//                              签名/验证
// ============================================================================

// SignEntry 用私钥签名条目
//
// 填充 Publisher，按 (发布者, Name, Index) 重新计算 Key，然后签名。
func SignEntry(priv crypto.PrivateKey, e *ValueEntry) error {
	if priv == nil {
		return crypto.ErrNilPrivateKey
	}
	if e == nil {
		return errors.New("nil entry")
	}

	pub := priv.Public().Bytes()
	e.Publisher = pub
	e.Key = types.DeriveKey(types.NodeIDFromPublicKey(pub), e.Name, e.Index)

	e.Signature = priv.Sign(e.SigningBytes())
	return nil
}

// NewSignedEntry 创建并签名条目
func NewSignedEntry(priv crypto.PrivateKey, name string, index uint32, value []byte, createdAt time.Time, ttl time.Duration, seq uint64) (*ValueEntry, error) {
	e := &ValueEntry{
		Name:      name,
		Index:     index,
		Value:     append([]byte(nil), value...),
		CreatedAt: createdAt,
		TTL:       ttl,
		Seq:       seq,
	}
	if err := SignEntry(priv, e); err != nil {
		return nil, err
	}
	return e, nil
}

// VerifyEntrySignature 验证条目签名
func VerifyEntrySignature(e *ValueEntry) error {
	if e == nil {
		return ErrInvalidEntry
	}
	if len(e.Signature) == 0 {
		return ErrInvalidSignature
	}

	pub, err := crypto.PublicKeyFromBytes(e.Publisher)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if !pub.Verify(e.SigningBytes(), e.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

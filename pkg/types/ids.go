package types

import (
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeIDSize NodeID 字节长度
const NodeIDSize = 32

// NodeID 节点唯一标识符
//
// 由公钥派生（公钥的 SHA256 哈希）。DHT 的键与节点共享同一标识空间，
// 因此值存储的键也使用 NodeID 表示。
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type NodeID [NodeIDSize]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 32 bytes Base58")

// String 返回 NodeID 的 Base58 字符串表示
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 NodeID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Hex 返回十六进制表示（用于持久化键）
func (id NodeID) Hex() string {
	return hex.EncodeToString(id[:])
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// Equal 比较两个 NodeID 是否相等
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// MarshalText 实现 encoding.TextMarshaler（JSON 中使用 Base58）
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(base58.Encode(id[:])), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = EmptyNodeID
		return nil
	}
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != NodeIDSize {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从 Base58 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}

	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(b)
}

// NodeIDFromPublicKey 由公钥派生 NodeID
//
// 公式: NodeID = SHA256(publicKey)
func NodeIDFromPublicKey(pub []byte) NodeID {
	return NodeID(sha256.Sum256(pub))
}

// ============================================================================
//                              键派生
// ============================================================================

// keyDomain 键派生域分隔符
const keyDomain = "dht-key-v1"

// DeriveKey 派生值存储键
//
// 键绑定发布者身份、名称和索引，只有发布者本人能为该键产生有效签名：
//
//	Key = SHA256("dht-key-v1" || publisher || u32be(len(name)) || name || u32be(index))
func DeriveKey(publisher NodeID, name string, index uint32) NodeID {
	h := sha256.New()
	h.Write([]byte(keyDomain))
	h.Write(publisher[:])

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(len(name)))
	h.Write(buf[:])
	h.Write([]byte(name))
	binary.BigEndian.PutUint32(buf[:], index)
	h.Write(buf[:])

	var key NodeID
	copy(key[:], h.Sum(nil))
	return key
}

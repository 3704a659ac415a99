package dht

import (
	"bytes"
	"fmt"
	"time"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	"lukechampine.com/blake3"

	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// verifiedCacheSize 已验证签名缓存容量
const verifiedCacheSize = 4096

// ============================================================================
//                              验证器
// ============================================================================

// Validator 值条目验证器
//
// 验证顺序：结构 → 键绑定 → TTL → 签名。签名验证结果按
// blake3(签名载荷 || 签名) 缓存，同一条目在多次查找中重复出现时不重复验签。
type Validator struct {
	maxTTL       time.Duration
	maxValueSize int
	maxSkew      time.Duration

	verified *arc.ARCCache[[32]byte, struct{}]
}

// NewValidator 创建验证器
func NewValidator(cfg *Config) *Validator {
	cache, err := arc.NewARC[[32]byte, struct{}](verifiedCacheSize)
	if err != nil {
		// 只有 size <= 0 时才会出错
		panic(err)
	}
	return &Validator{
		maxTTL:       cfg.MaxTTL,
		maxValueSize: cfg.MaxValueSize,
		maxSkew:      cfg.MaxClockSkew,
		verified:     cache,
	}
}

// Validate 完整验证条目
//
// 返回错误均包装 ErrInvalidEntry、ErrValueTooLarge、ErrExpiredEntry
// 或 ErrInvalidSignature 之一。
func (v *Validator) Validate(e *ValueEntry, now time.Time) error {
	if err := v.ValidateStructure(e); err != nil {
		return err
	}
	if err := v.ValidateKeyBinding(e); err != nil {
		return err
	}
	if err := v.ValidateTTL(e, now); err != nil {
		return err
	}
	return v.ValidateSignature(e)
}

// ValidateStructure 验证字段长度
func (v *Validator) ValidateStructure(e *ValueEntry) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if e.Key.IsEmpty() {
		return fmt.Errorf("%w: empty key", ErrInvalidEntry)
	}
	if len(e.Publisher) != crypto.PublicKeySize {
		return fmt.Errorf("%w: publisher key length %d", ErrInvalidEntry, len(e.Publisher))
	}
	if len(e.Signature) != crypto.SignatureSize {
		return fmt.Errorf("%w: signature length %d", ErrInvalidSignature, len(e.Signature))
	}
	if len(e.Value) > v.maxValueSize {
		return fmt.Errorf("%w: %d > %d", ErrValueTooLarge, len(e.Value), v.maxValueSize)
	}
	return nil
}

// ValidateKeyBinding 验证 Key 由发布者、名称和索引派生
func (v *Validator) ValidateKeyBinding(e *ValueEntry) error {
	want := types.DeriveKey(e.PublisherID(), e.Name, e.Index)
	if want != e.Key {
		return fmt.Errorf("%w: key not bound to publisher", ErrInvalidEntry)
	}
	return nil
}

// ValidateTTL 验证 TTL 范围和过期
func (v *Validator) ValidateTTL(e *ValueEntry, now time.Time) error {
	if e.TTL <= 0 {
		return fmt.Errorf("%w: non-positive TTL %s", ErrExpiredEntry, e.TTL)
	}
	if e.TTL > v.maxTTL {
		return fmt.Errorf("%w: TTL %s exceeds max %s", ErrExpiredEntry, e.TTL, v.maxTTL)
	}
	if e.CreatedAt.After(now.Add(v.maxSkew)) {
		return fmt.Errorf("%w: created in the future", ErrInvalidEntry)
	}
	if e.IsExpired(now) {
		return ErrExpiredEntry
	}
	return nil
}

// ValidateSignature 验证签名（带缓存）
func (v *Validator) ValidateSignature(e *ValueEntry) error {
	digest := entryDigest(e)
	if v.verified.Contains(digest) {
		return nil
	}
	if err := VerifyEntrySignature(e); err != nil {
		return err
	}
	v.verified.Add(digest, struct{}{})
	return nil
}

// entryDigest 计算签名缓存键
func entryDigest(e *ValueEntry) [32]byte {
	h := blake3.New(32, nil)
	h.Write(e.SigningBytes())
	h.Write(e.Signature)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ============================================================================
//                              冲突解决
// ============================================================================

// CompareEntries 比较同一个键的两个条目
//
// 规则：Seq 更大者胜；Seq 相同则 CreatedAt 更新者胜；仍相同则签名字节更大者胜。
// 返回 1 表示 a 胜，-1 表示 b 胜，0 表示两者相同。
func CompareEntries(a, b *ValueEntry) int {
	switch {
	case a.Seq > b.Seq:
		return 1
	case a.Seq < b.Seq:
		return -1
	}
	switch {
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	}
	return bytes.Compare(a.Signature, b.Signature)
}

// SelectBest 返回两个条目中的胜者
//
// 结果与参数顺序无关；任一为 nil 时返回另一个。
func SelectBest(a, b *ValueEntry) *ValueEntry {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if CompareEntries(a, b) >= 0 {
		return a
	}
	return b
}

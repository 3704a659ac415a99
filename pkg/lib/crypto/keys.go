package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/dep2p/go-dht/pkg/types"
)

// 长度常量，均为 Ed25519 的定长
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
	SeedSize      = ed25519.SeedSize
)

var (
	ErrNilPrivateKey     = errors.New("crypto: nil private key")
	ErrNilPublicKey      = errors.New("crypto: nil public key")
	ErrInvalidKeySize    = errors.New("crypto: invalid key size")
	ErrInvalidPrivateKey = errors.New("crypto: private key does not match its public half")
)

// PublicKey 发布者公钥，随 ValueEntry 一起传播
type PublicKey interface {
	// Bytes 返回 32 字节公钥的副本
	Bytes() []byte

	// Verify 验证签名，长度不对的签名视为无效
	Verify(data, sig []byte) bool

	// Equal 常量时间比较
	Equal(other PublicKey) bool
}

// PrivateKey 本节点私钥，用于签名发布的条目
type PrivateKey interface {
	// Seed 返回 32 字节种子的副本，密钥文件只保存种子
	Seed() []byte

	Sign(data []byte) []byte

	Public() PublicKey
}

type edPublicKey ed25519.PublicKey

func (k edPublicKey) Bytes() []byte {
	return append([]byte(nil), k...)
}

func (k edPublicKey) Verify(data, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(k), data, sig)
}

func (k edPublicKey) Equal(other PublicKey) bool {
	if other == nil {
		return false
	}
	return subtle.ConstantTimeCompare(k, other.Bytes()) == 1
}

type edPrivateKey ed25519.PrivateKey

func (k edPrivateKey) Seed() []byte {
	return ed25519.PrivateKey(k).Seed()
}

func (k edPrivateKey) Sign(data []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(k), data)
}

func (k edPrivateKey) Public() PublicKey {
	return edPublicKey(ed25519.PrivateKey(k).Public().(ed25519.PublicKey)) //nolint:errcheck // 类型固定
}

// GenerateKeyPair 使用系统随机源生成密钥对
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	return GenerateKey(rand.Reader)
}

// GenerateKey 使用给定随机源生成密钥对，测试中可传入确定性的 reader
func GenerateKey(src io.Reader) (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(src)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return edPrivateKey(priv), edPublicKey(pub), nil
}

// PublicKeyFromBytes 解析条目中携带的公钥
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d", ErrInvalidKeySize, len(b), PublicKeySize)
	}
	return edPublicKey(append([]byte(nil), b...)), nil
}

// PrivateKeyFromBytes 解析私钥
//
// 接受 32 字节种子，或 64 字节完整私钥（后半部分必须与种子派生的公钥一致）。
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	switch len(b) {
	case SeedSize:
		return edPrivateKey(ed25519.NewKeyFromSeed(b)), nil
	case ed25519.PrivateKeySize:
		k := ed25519.NewKeyFromSeed(b[:SeedSize])
		if subtle.ConstantTimeCompare(k, b) != 1 {
			return nil, ErrInvalidPrivateKey
		}
		return edPrivateKey(k), nil
	}
	return nil, fmt.Errorf("%w: private key is %d bytes, want %d or %d",
		ErrInvalidKeySize, len(b), SeedSize, ed25519.PrivateKeySize)
}

// NodeIDFromPublicKey 节点 ID 为公钥的 SHA-256
func NodeIDFromPublicKey(pub PublicKey) (types.NodeID, error) {
	if pub == nil {
		return types.EmptyNodeID, ErrNilPublicKey
	}
	return types.NodeIDFromPublicKey(pub.Bytes()), nil
}

func NodeIDFromPrivateKey(priv PrivateKey) (types.NodeID, error) {
	if priv == nil {
		return types.EmptyNodeID, ErrNilPrivateKey
	}
	return NodeIDFromPublicKey(priv.Public())
}

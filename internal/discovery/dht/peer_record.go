package dht

import (
	"encoding/binary"
	"fmt"

	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// PeerRecordPayloadType 节点记录签名载荷类型标识
var PeerRecordPayloadType = []byte("/dht/peer-record/1")

// PeerRecordSigningBytes 返回节点记录的规范编码
//
// 格式（大端序）：
//
//	[payload_type |
//	 public_key_len(2) | public_key |
//	 addr_len(4) | addr |
//	 version(8)]
func PeerRecordSigningBytes(p types.PeerAddr) []byte {
	size := len(PeerRecordPayloadType)
	size += 2 + len(p.PublicKey)
	size += 4 + len(p.Addr)
	size += 8

	buf := make([]byte, 0, size)
	buf = append(buf, PeerRecordPayloadType...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.PublicKey)))
	buf = append(buf, p.PublicKey...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Addr)))
	buf = append(buf, p.Addr...)
	buf = binary.BigEndian.AppendUint64(buf, p.Version)
	return buf
}

// SignPeerRecord 为本节点地址生成签名记录
func SignPeerRecord(priv crypto.PrivateKey, addr string, version uint64) (types.PeerAddr, error) {
	if priv == nil {
		return types.PeerAddr{}, crypto.ErrNilPrivateKey
	}
	pub := priv.Public().Bytes()
	rec := types.PeerAddr{
		ID:        types.NodeIDFromPublicKey(pub),
		Addr:      addr,
		PublicKey: pub,
		Version:   version,
	}
	rec.Signature = priv.Sign(PeerRecordSigningBytes(rec))
	return rec, nil
}

// VerifyPeerRecord 验证节点记录
//
// ID 必须由 PublicKey 派生，签名必须覆盖 (PublicKey, Addr, Version)。
// 这样任何人都无法替别的 ID 声明地址。Addr 可以为空（只发起请求的节点）。
func VerifyPeerRecord(p types.PeerAddr) error {
	if !p.Signed() {
		return fmt.Errorf("%w: unsigned", ErrInvalidPeerRecord)
	}
	pub, err := crypto.PublicKeyFromBytes(p.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPeerRecord, err)
	}
	if types.NodeIDFromPublicKey(p.PublicKey) != p.ID {
		return fmt.Errorf("%w: id does not match public key", ErrInvalidPeerRecord)
	}
	if !pub.Verify(PeerRecordSigningBytes(p), p.Signature) {
		return fmt.Errorf("%w: bad signature", ErrInvalidPeerRecord)
	}
	return nil
}

package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPeerRecord_SignVerify 测试节点记录签名与篡改检测
func TestPeerRecord_SignVerify(t *testing.T) {
	priv := newTestKey(t)
	rec, err := SignPeerRecord(priv, "10.0.0.1:4001", 7)
	require.NoError(t, err)

	assert.Equal(t, priv.Public().Bytes(), rec.PublicKey)
	assert.True(t, rec.Signed())
	require.NoError(t, VerifyPeerRecord(rec))

	moved := rec
	moved.Addr = "10.0.0.2:4001"
	assert.ErrorIs(t, VerifyPeerRecord(moved), ErrInvalidPeerRecord, "地址被改写")

	bumped := rec
	bumped.Version++
	assert.ErrorIs(t, VerifyPeerRecord(bumped), ErrInvalidPeerRecord, "版本被改写")

	other := signedPeer(t, rec.Addr)
	other.ID = rec.ID
	assert.ErrorIs(t, VerifyPeerRecord(other), ErrInvalidPeerRecord, "ID 不由公钥派生")

	unsigned := rec
	unsigned.Signature = nil
	assert.ErrorIs(t, VerifyPeerRecord(unsigned), ErrInvalidPeerRecord)

	// 只发起请求的节点不公布地址
	noAddr, err := SignPeerRecord(priv, "", 1)
	require.NoError(t, err)
	assert.NoError(t, VerifyPeerRecord(noAddr))

	_, err = SignPeerRecord(nil, "x", 1)
	assert.Error(t, err)

	t.Log("✅ 节点记录签名覆盖地址和版本")
}

package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/pkg/types"
)

func testSender(t *testing.T) types.PeerAddr {
	return signedPeer(t, "127.0.0.1:4001")
}

// ============================================================================
// 消息编解码测试
// ============================================================================

// TestMessage_FindValueRoundTrip 测试带条目的响应编解码后签名仍有效
func TestMessage_FindValueRoundTrip(t *testing.T) {
	sender := testSender(t)
	entry := newTestEntry(t, "n", []byte("payload"), 3)
	req := NewFindValueRequest(sender, entry.Key)

	data, err := req.Encode()
	require.NoError(t, err)
	decoded, err := DecodeMessage(data, 0)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeFindValue, decoded.Type)
	assert.Equal(t, entry.Key, *decoded.Key)
	assert.NotEmpty(t, decoded.RequestID)

	resp := NewFindValueResponse(decoded, testSender(t), entry, nil)
	data, err = resp.Encode()
	require.NoError(t, err)
	got, err := DecodeMessage(data, 1<<20)
	require.NoError(t, err)

	assert.Equal(t, req.RequestID, got.RequestID)
	require.NotNil(t, got.Entry)
	assert.True(t, entry.CreatedAt.Equal(got.Entry.CreatedAt))
	assert.NoError(t, VerifyEntrySignature(got.Entry))

	t.Log("✅ FIND_VALUE 编解码保持签名有效")
}

// TestDecodeMessage_Invalid 测试结构校验
func TestDecodeMessage_Invalid(t *testing.T) {
	sender := testSender(t)

	encode := func(m *Message) []byte {
		data, err := m.Encode()
		require.NoError(t, err)
		return data
	}

	cases := map[string][]byte{
		"garbage":         []byte("{"),
		"no sender":       encode(&Message{Type: MessageTypePing}),
		"unknown type":    encode(&Message{Type: 99, Sender: sender}),
		"find no target":  encode(&Message{Type: MessageTypeFindNode, Sender: sender}),
		"value no key":    encode(&Message{Type: MessageTypeFindValue, Sender: sender}),
		"store no entry":  encode(&Message{Type: MessageTypeStore, Sender: sender}),
		"malformed peer":  encode(&Message{Type: MessageTypeFindNodeResponse, Sender: sender, Peers: []types.PeerAddr{{ID: randomID(t)}}}),
		"empty peer id":   encode(&Message{Type: MessageTypeFindValueResponse, Sender: sender, Peers: []types.PeerAddr{{Addr: "x"}}}),
		"zero type":       encode(&Message{Sender: sender}),
		"unsigned sender": encode(NewPingRequest(types.PeerAddr{ID: sender.ID, Addr: sender.Addr}, 1)),
		"unsigned peer":   encode(NewFindNodeResponse(NewFindNodeRequest(sender, randomID(t)), sender, []types.PeerAddr{{ID: randomID(t), Addr: "x"}})),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage(data, 0)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}

	impostor := testSender(t)
	impostor.ID = sender.ID
	_, err := DecodeMessage(encode(NewPingRequest(impostor, 1)), 0)
	assert.ErrorIs(t, err, ErrInvalidPeerRecord, "ID 与公钥不符")

	moved := sender
	moved.Addr = "10.0.0.1:4001"
	_, err = DecodeMessage(encode(NewPingRequest(moved, 1)), 0)
	assert.ErrorIs(t, err, ErrInvalidPeerRecord, "地址被改写")

	big := encode(NewPingRequest(sender, 1))
	_, err = DecodeMessage(big, len(big)-1)
	assert.ErrorIs(t, err, ErrInvalidResponse, "超过大小限制")
}

// TestResponseConstructors 测试响应回显请求 ID
func TestResponseConstructors(t *testing.T) {
	sender := testSender(t)
	responder := testSender(t)

	ping := NewPingRequest(sender, 42)
	pong := NewPongResponse(ping, responder)
	assert.Equal(t, MessageTypePong, pong.Type)
	assert.Equal(t, uint64(42), pong.Nonce)
	assert.Equal(t, ping.RequestID, pong.RequestID)

	find := NewFindNodeRequest(sender, randomID(t))
	peers := []types.PeerAddr{testSender(t)}
	fresp := NewFindNodeResponse(find, responder, peers)
	assert.Equal(t, find.RequestID, fresp.RequestID)
	assert.Equal(t, peers, fresp.Peers)

	store := NewStoreRequest(sender, newTestEntry(t, "n", nil, 1))
	sresp := NewStoreResponse(store, responder, true, "")
	assert.Equal(t, store.RequestID, sresp.RequestID)
	assert.True(t, sresp.Stored)

	errResp := NewErrorResponse("rid", responder, "boom")
	assert.Equal(t, MessageTypeError, errResp.Type)
	assert.Equal(t, "rid", errResp.RequestID)
}

// TestMessageType 测试类型映射
func TestMessageType(t *testing.T) {
	assert.True(t, MessageTypePing.IsRequest())
	assert.False(t, MessageTypePong.IsRequest())
	assert.Equal(t, MessageTypePong, MessageTypePing.ResponseType())
	assert.Equal(t, MessageTypeFindNodeResponse, MessageTypeFindNode.ResponseType())
	assert.Equal(t, MessageTypeFindValueResponse, MessageTypeFindValue.ResponseType())
	assert.Equal(t, MessageTypeStoreResponse, MessageTypeStore.ResponseType())
	assert.Equal(t, MessageTypeError, MessageTypePong.ResponseType())
	assert.Equal(t, "FIND_VALUE", MessageTypeFindValue.String())
	assert.Equal(t, "UNKNOWN", MessageType(0).String())
}

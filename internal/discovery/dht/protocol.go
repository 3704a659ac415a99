package dht

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType uint8

const (
	// MessageTypePing PING 请求
	MessageTypePing MessageType = iota + 1
	// MessageTypePong PING 响应
	MessageTypePong

	// MessageTypeFindNode FIND_NODE 请求
	MessageTypeFindNode
	// MessageTypeFindNodeResponse FIND_NODE 响应
	MessageTypeFindNodeResponse

	// MessageTypeFindValue FIND_VALUE 请求
	MessageTypeFindValue
	// MessageTypeFindValueResponse FIND_VALUE 响应
	MessageTypeFindValueResponse

	// MessageTypeStore STORE 请求
	MessageTypeStore
	// MessageTypeStoreResponse STORE 响应
	MessageTypeStoreResponse

	// MessageTypeError 错误响应
	MessageTypeError
)

// String 返回消息类型的字符串表示
func (m MessageType) String() string {
	switch m {
	case MessageTypePing:
		return "PING"
	case MessageTypePong:
		return "PONG"
	case MessageTypeFindNode:
		return "FIND_NODE"
	case MessageTypeFindNodeResponse:
		return "FIND_NODE_RESPONSE"
	case MessageTypeFindValue:
		return "FIND_VALUE"
	case MessageTypeFindValueResponse:
		return "FIND_VALUE_RESPONSE"
	case MessageTypeStore:
		return "STORE"
	case MessageTypeStoreResponse:
		return "STORE_RESPONSE"
	case MessageTypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsRequest 是否为请求类型
func (m MessageType) IsRequest() bool {
	switch m {
	case MessageTypePing, MessageTypeFindNode, MessageTypeFindValue, MessageTypeStore:
		return true
	default:
		return false
	}
}

// ResponseType 返回请求对应的响应类型
func (m MessageType) ResponseType() MessageType {
	switch m {
	case MessageTypePing:
		return MessageTypePong
	case MessageTypeFindNode:
		return MessageTypeFindNodeResponse
	case MessageTypeFindValue:
		return MessageTypeFindValueResponse
	case MessageTypeStore:
		return MessageTypeStoreResponse
	default:
		return MessageTypeError
	}
}

// ============================================================================
//                              消息结构
// ============================================================================

// Message DHT 消息
//
// 封闭的变体类型：Type 决定哪些字段有意义。
type Message struct {
	// Type 消息类型
	Type MessageType `json:"type"`

	// RequestID 请求 ID（响应原样回显）
	RequestID string `json:"request_id"`

	// Sender 发送者的签名节点记录
	Sender types.PeerAddr `json:"sender"`

	// Target 目标节点 ID（FIND_NODE）
	Target *types.NodeID `json:"target,omitempty"`

	// Key 值键（FIND_VALUE）
	Key *types.NodeID `json:"key,omitempty"`

	// Nonce 随机数（PING/PONG 回显）
	Nonce uint64 `json:"nonce,omitempty"`

	// Entry 值条目（STORE 请求、FIND_VALUE 命中响应）
	Entry *ValueEntry `json:"entry,omitempty"`

	// Peers 更近节点的签名记录（FIND_NODE/FIND_VALUE 响应）
	Peers []types.PeerAddr `json:"peers,omitempty"`

	// Stored STORE 是否使条目成为当前值
	Stored bool `json:"stored,omitempty"`

	// Error 错误信息
	Error string `json:"error,omitempty"`
}

// ============================================================================
//                              消息编解码
// ============================================================================

// Encode 编码消息为字节数组
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage 从字节数组解码消息并检查结构
//
// 远端数据在这里完成长度、必填字段和节点记录签名校验，之后的代码不再信任原始输入。
// 发送者和返回的每个节点都必须是有效的签名记录。
func DecodeMessage(data []byte, maxSize int) (*Message, error) {
	if maxSize > 0 && len(data) > maxSize {
		return nil, fmt.Errorf("%w: message size %d exceeds %d", ErrInvalidResponse, len(data), maxSize)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *Message) validate() error {
	if m.Sender.ID.IsEmpty() {
		return fmt.Errorf("%w: missing sender", ErrInvalidResponse)
	}
	if err := VerifyPeerRecord(m.Sender); err != nil {
		return fmt.Errorf("%w: sender: %w", ErrInvalidResponse, err)
	}
	switch m.Type {
	case MessageTypePing, MessageTypePong, MessageTypeStoreResponse, MessageTypeError:
	case MessageTypeFindNode:
		if m.Target == nil {
			return fmt.Errorf("%w: FIND_NODE without target", ErrInvalidResponse)
		}
	case MessageTypeFindValue:
		if m.Key == nil {
			return fmt.Errorf("%w: FIND_VALUE without key", ErrInvalidResponse)
		}
	case MessageTypeStore:
		if m.Entry == nil {
			return fmt.Errorf("%w: STORE without entry", ErrInvalidResponse)
		}
	case MessageTypeFindNodeResponse, MessageTypeFindValueResponse:
		for _, p := range m.Peers {
			if p.ID.IsEmpty() || p.Addr == "" {
				return fmt.Errorf("%w: malformed peer in response", ErrInvalidResponse)
			}
			if err := VerifyPeerRecord(p); err != nil {
				return fmt.Errorf("%w: peer %s: %w", ErrInvalidResponse, p.ID.ShortString(), err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown message type %d", ErrInvalidResponse, m.Type)
	}
	return nil
}

// newRequestID 生成请求 ID
func newRequestID() string {
	return uuid.NewString()
}

// ============================================================================
//                              请求构造器
// ============================================================================

// NewPingRequest 创建 PING 请求
func NewPingRequest(sender types.PeerAddr, nonce uint64) *Message {
	return &Message{
		Type:      MessageTypePing,
		RequestID: newRequestID(),
		Sender:    sender,
		Nonce:     nonce,
	}
}

// NewFindNodeRequest 创建 FIND_NODE 请求
func NewFindNodeRequest(sender types.PeerAddr, target types.NodeID) *Message {
	return &Message{
		Type:      MessageTypeFindNode,
		RequestID: newRequestID(),
		Sender:    sender,
		Target:    &target,
	}
}

// NewFindValueRequest 创建 FIND_VALUE 请求
func NewFindValueRequest(sender types.PeerAddr, key types.NodeID) *Message {
	return &Message{
		Type:      MessageTypeFindValue,
		RequestID: newRequestID(),
		Sender:    sender,
		Key:       &key,
	}
}

// NewStoreRequest 创建 STORE 请求
func NewStoreRequest(sender types.PeerAddr, entry *ValueEntry) *Message {
	return &Message{
		Type:      MessageTypeStore,
		RequestID: newRequestID(),
		Sender:    sender,
		Entry:     entry,
	}
}

// ============================================================================
//                              响应构造器
// ============================================================================

// NewPongResponse 创建 PONG 响应（回显 nonce）
func NewPongResponse(req *Message, sender types.PeerAddr) *Message {
	return &Message{
		Type:      MessageTypePong,
		RequestID: req.RequestID,
		Sender:    sender,
		Nonce:     req.Nonce,
	}
}

// NewFindNodeResponse 创建 FIND_NODE 响应
func NewFindNodeResponse(req *Message, sender types.PeerAddr, peers []types.PeerAddr) *Message {
	return &Message{
		Type:      MessageTypeFindNodeResponse,
		RequestID: req.RequestID,
		Sender:    sender,
		Peers:     peers,
	}
}

// NewFindValueResponse 创建 FIND_VALUE 响应
//
// entry 非空表示命中；否则返回更近的节点。
func NewFindValueResponse(req *Message, sender types.PeerAddr, entry *ValueEntry, peers []types.PeerAddr) *Message {
	return &Message{
		Type:      MessageTypeFindValueResponse,
		RequestID: req.RequestID,
		Sender:    sender,
		Entry:     entry,
		Peers:     peers,
	}
}

// NewStoreResponse 创建 STORE 响应
func NewStoreResponse(req *Message, sender types.PeerAddr, stored bool, errMsg string) *Message {
	return &Message{
		Type:      MessageTypeStoreResponse,
		RequestID: req.RequestID,
		Sender:    sender,
		Stored:    stored,
		Error:     errMsg,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(requestID string, sender types.PeerAddr, errMsg string) *Message {
	return &Message{
		Type:      MessageTypeError,
		RequestID: requestID,
		Sender:    sender,
		Error:     errMsg,
	}
}

package dht

import (
	"errors"

	dhtcore "github.com/dep2p/go-dht/internal/discovery/dht"
)

// 节点生命周期错误
var (
	ErrNotStarted     = errors.New("node not started")
	ErrAlreadyStarted = errors.New("node already started")
	ErrNodeClosed     = errors.New("node closed")
)

// 操作错误，由 Node 的查找和发布方法返回，可用 errors.Is 判断
var (
	// ErrNotFound FindValue 没有找到未过期的条目
	ErrNotFound = dhtcore.ErrNotFound

	// ErrNoPeersAvailable 所有种子节点都不可达
	ErrNoPeersAvailable = dhtcore.ErrNoPeersAvailable

	// ErrValueTooLarge 发布的值超过大小上限
	ErrValueTooLarge = dhtcore.ErrValueTooLarge

	// ErrInvalidSignature 收到的条目签名无效
	ErrInvalidSignature = dhtcore.ErrInvalidSignature
)

package dht

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dep2p/go-dht/pkg/types"
)

const (
	// badPeerFailPenalty 一次查询失败增加的分数
	badPeerFailPenalty = 2

	// badPeerSuccessCredit 一次查询成功减少的分数
	badPeerSuccessCredit = 1

	// badPeerCacheSize 分数表容量
	badPeerCacheSize = 1024
)

// badPeers 坏节点分数表
//
// 查询失败 +2，成功 -1，分数达到阈值的节点被查找跳过。
// 分数在 ttl 内没有更新则过期，节点自然恢复。
type badPeers struct {
	mu        sync.Mutex
	scores    *expirable.LRU[types.NodeID, int]
	threshold int
}

func newBadPeers(threshold int, ttl time.Duration) *badPeers {
	return &badPeers{
		scores:    expirable.NewLRU[types.NodeID, int](badPeerCacheSize, nil, ttl),
		threshold: threshold,
	}
}

// failure 记录一次失败，返回新分数
func (b *badPeers) failure(id types.NodeID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	score, _ := b.scores.Get(id)
	score += badPeerFailPenalty
	b.scores.Add(id, score)
	return score
}

// success 记录一次成功
func (b *badPeers) success(id types.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	score, ok := b.scores.Get(id)
	if !ok {
		return
	}
	score -= badPeerSuccessCredit
	if score <= 0 {
		b.scores.Remove(id)
		return
	}
	b.scores.Add(id, score)
}

// isBad 节点是否应被跳过
func (b *badPeers) isBad(id types.NodeID) bool {
	if b.threshold <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	score, _ := b.scores.Get(id)
	return score >= b.threshold
}

func (b *badPeers) score(id types.NodeID) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	score, _ := b.scores.Get(id)
	return score
}

package dht

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// localRecord 本地发布的记录
type localRecord struct {
	name  string
	index uint32
	value []byte
	ttl   time.Duration

	// seq 最近一次签发的序列号
	seq atomic.Uint64

	// current 最近一次签发的条目
	mu      sync.Mutex
	current *ValueEntry
}

// Publisher 本地发布记录管理器
//
// 记录本节点发布的条目，为重新发布签发新版本。每个键的序列号严格递增，
// 同一键的两次签发不会得到相同的序列号。
type Publisher struct {
	priv  crypto.PrivateKey
	self  types.NodeID
	clock clock.Clock

	mu      sync.RWMutex
	records map[types.NodeID]*localRecord
}

// NewPublisher 创建发布记录管理器
func NewPublisher(priv crypto.PrivateKey, clk clock.Clock) (*Publisher, error) {
	self, err := crypto.NodeIDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		priv:    priv,
		self:    self,
		clock:   clk,
		records: make(map[types.NodeID]*localRecord),
	}, nil
}

// KeyFor 返回本节点发布 (name, index) 时使用的键
func (p *Publisher) KeyFor(name string, index uint32) types.NodeID {
	return types.DeriveKey(p.self, name, index)
}

// Publish 签发新条目并登记为本地记录
//
// minSeq 是已知的该键最高序列号（例如本地存储中的条目），新条目的序列号严格大于它。
func (p *Publisher) Publish(name string, index uint32, value []byte, ttl time.Duration, minSeq uint64) (*ValueEntry, error) {
	key := p.KeyFor(name, index)

	p.mu.Lock()
	rec, ok := p.records[key]
	if !ok {
		rec = &localRecord{name: name, index: index}
		p.records[key] = rec
	}
	p.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.value = append([]byte(nil), value...)
	rec.ttl = ttl
	raiseTo(&rec.seq, minSeq)

	return p.signLocked(rec)
}

// Renew 为已登记的记录签发新版本（序列号 +1，创建时间为当前时间）
func (p *Publisher) Renew(key types.NodeID) (*ValueEntry, error) {
	p.mu.RLock()
	rec, ok := p.records[key]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return p.signLocked(rec)
}

func (p *Publisher) signLocked(rec *localRecord) (*ValueEntry, error) {
	seq := rec.seq.Add(1)
	e, err := NewSignedEntry(p.priv, rec.name, rec.index, rec.value, p.clock.Now(), rec.ttl, seq)
	if err != nil {
		return nil, err
	}
	rec.current = e
	return e.Clone(), nil
}

// raiseTo 将 v 提升到至少 floor
func raiseTo(v *atomic.Uint64, floor uint64) {
	for {
		cur := v.Load()
		if cur >= floor || v.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// NextSeq 返回键下一次签发将使用的序列号
func (p *Publisher) NextSeq(key types.NodeID) uint64 {
	p.mu.RLock()
	rec, ok := p.records[key]
	p.mu.RUnlock()
	if !ok {
		return 1
	}
	return rec.seq.Load() + 1
}

// Current 返回键最近一次签发的条目
func (p *Publisher) Current(key types.NodeID) (*ValueEntry, bool) {
	p.mu.RLock()
	rec, ok := p.records[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.current == nil {
		return nil, false
	}
	return rec.current.Clone(), true
}

// DueForRepublish 返回剩余 TTL 不超过 window 的记录键
func (p *Publisher) DueForRepublish(window time.Duration) []types.NodeID {
	now := p.clock.Now()

	p.mu.RLock()
	defer p.mu.RUnlock()

	var due []types.NodeID
	for key, rec := range p.records {
		rec.mu.Lock()
		if rec.current != nil && rec.current.Remaining(now) <= window {
			due = append(due, key)
		}
		rec.mu.Unlock()
	}
	return due
}

// Remove 取消登记
func (p *Publisher) Remove(key types.NodeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.records[key]; !ok {
		return false
	}
	delete(p.records, key)
	return true
}

// Len 返回本地记录数量
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

package dht

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/spaolacci/murmur3"

	"github.com/dep2p/go-dht/pkg/types"
)

// valueShards 值存储分片数
const valueShards = 64

// EntryPersister 值条目持久化后端
type EntryPersister interface {
	SaveEntry(e *ValueEntry) error
	DeleteEntry(key types.NodeID) error
	LoadEntries() ([]*ValueEntry, error)
}

// PutResult Put 的结果
type PutResult struct {
	// Stored 条目是否成为当前值
	Stored bool

	// Current 写入后该键的当前条目（副本）
	Current *ValueEntry
}

type valueShard struct {
	mu      sync.RWMutex
	entries map[types.NodeID]*ValueEntry
}

// ValueStore 值存储
//
// 每个键最多保存一个当前条目，冲突时保留胜者、丢弃败者。
// 键经 murmur3 散列到分片，每个分片独立加锁。
type ValueStore struct {
	shards    [valueShards]valueShard
	validator *Validator
	clock     clock.Clock
	persist   EntryPersister

	count atomic.Int64
}

// NewValueStore 创建值存储
//
// persist 可以为 nil，此时只保存在内存中。
func NewValueStore(validator *Validator, clk clock.Clock, persist EntryPersister) *ValueStore {
	vs := &ValueStore{
		validator: validator,
		clock:     clk,
		persist:   persist,
	}
	for i := range vs.shards {
		vs.shards[i].entries = make(map[types.NodeID]*ValueEntry)
	}
	return vs
}

func (vs *ValueStore) shard(key types.NodeID) *valueShard {
	return &vs.shards[murmur3.Sum32(key[:])%valueShards]
}

// Load 从持久化后端加载条目
//
// 加载的条目重新经过完整验证，过期或无效的条目被删除。
func (vs *ValueStore) Load() (int, error) {
	if vs.persist == nil {
		return 0, nil
	}
	entries, err := vs.persist.LoadEntries()
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		res, err := vs.Put(e)
		if err != nil {
			if derr := vs.persist.DeleteEntry(e.Key); derr != nil {
				logger.Warn("删除无效持久化条目失败", "key", e.Key.ShortString(), "error", derr)
			}
			continue
		}
		if res.Stored {
			loaded++
		}
	}
	return loaded, nil
}

// Put 写入条目
//
// 先验证签名和 TTL，失败时不修改存储。然后与已有条目比较，保留胜者。
// 旧版本条目不是错误：返回 Stored=false 和当前条目。
func (vs *ValueStore) Put(e *ValueEntry) (PutResult, error) {
	now := vs.clock.Now()
	if err := vs.validator.Validate(e, now); err != nil {
		return PutResult{}, err
	}

	s := vs.shard(e.Key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[e.Key]
	if ok && existing.IsExpired(now) {
		existing, ok = nil, false
	}
	if ok && CompareEntries(e, existing) <= 0 {
		return PutResult{Stored: false, Current: existing.Clone()}, nil
	}

	stored := e.Clone()
	if _, had := s.entries[e.Key]; !had {
		vs.count.Add(1)
	}
	s.entries[e.Key] = stored

	if vs.persist != nil {
		if err := vs.persist.SaveEntry(stored); err != nil {
			logger.Warn("持久化值条目失败", "key", e.Key.ShortString(), "error", err)
		}
	}

	return PutResult{Stored: true, Current: stored.Clone()}, nil
}

// Get 获取键的当前条目
//
// 读取时检查过期，即使清理尚未运行也不会返回过期条目。
func (vs *ValueStore) Get(key types.NodeID) (*ValueEntry, error) {
	s := vs.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.IsExpired(vs.clock.Now()) {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// Delete 删除键
func (vs *ValueStore) Delete(key types.NodeID) bool {
	s := vs.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	vs.count.Add(-1)
	vs.deletePersisted(key)
	return true
}

// Sweep 删除所有过期条目，返回删除数量
func (vs *ValueStore) Sweep() int {
	now := vs.clock.Now()
	removed := 0
	for i := range vs.shards {
		s := &vs.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if e.IsExpired(now) {
				delete(s.entries, key)
				vs.deletePersisted(key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	vs.count.Add(int64(-removed))
	return removed
}

func (vs *ValueStore) deletePersisted(key types.NodeID) {
	if vs.persist == nil {
		return
	}
	if err := vs.persist.DeleteEntry(key); err != nil {
		logger.Warn("删除持久化值条目失败", "key", key.ShortString(), "error", err)
	}
}

// Len 返回条目数量（含尚未清理的过期条目）
func (vs *ValueStore) Len() int {
	return int(vs.count.Load())
}

// ForEach 遍历未过期条目的副本，fn 返回 false 时停止
func (vs *ValueStore) ForEach(fn func(e *ValueEntry) bool) {
	now := vs.clock.Now()
	for i := range vs.shards {
		s := &vs.shards[i]
		s.mu.RLock()
		snapshot := make([]*ValueEntry, 0, len(s.entries))
		for _, e := range s.entries {
			if !e.IsExpired(now) {
				snapshot = append(snapshot, e.Clone())
			}
		}
		s.mu.RUnlock()

		for _, e := range snapshot {
			if !fn(e) {
				return
			}
		}
	}
}

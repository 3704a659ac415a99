package dht

import (
	"encoding/json"

	"github.com/dep2p/go-dht/internal/core/storage/engine"
	"github.com/dep2p/go-dht/internal/core/storage/kv"
	"github.com/dep2p/go-dht/pkg/types"
)

// ValuePrefix 值条目在 KV 存储中的前缀
var ValuePrefix = []byte("d/v/")

// PersistentValueStore 基于 BadgerDB 的值条目持久化
//
// 键为条目 Key 的原始 32 字节，值为条目的 JSON 编码。
// 内存中的 ValueStore 是读路径，这里只负责写穿和启动加载。
type PersistentValueStore struct {
	// store KV 存储（前缀 d/v/）
	store *kv.Store
}

// NewPersistentValueStore 创建持久化值存储
//
// 参数:
//   - store: KV 存储实例（已带前缀 d/v/）
func NewPersistentValueStore(store *kv.Store) *PersistentValueStore {
	return &PersistentValueStore{store: store}
}

// SaveEntry 写入条目
func (p *PersistentValueStore) SaveEntry(e *ValueEntry) error {
	return p.store.PutJSON(e.Key[:], e)
}

// DeleteEntry 删除条目
func (p *PersistentValueStore) DeleteEntry(key types.NodeID) error {
	err := p.store.Delete(key[:])
	if engine.IsNotFound(err) {
		return nil
	}
	return err
}

// LoadEntries 加载所有条目
//
// 损坏的数据被跳过并删除。
func (p *PersistentValueStore) LoadEntries() ([]*ValueEntry, error) {
	var (
		entries []*ValueEntry
		corrupt [][]byte
	)
	err := p.store.Scan(func(key, value []byte) bool {
		var e ValueEntry
		if err := json.Unmarshal(value, &e); err != nil {
			corrupt = append(corrupt, append([]byte(nil), key...))
			return true
		}
		entries = append(entries, &e)
		return true
	})
	if err != nil {
		return nil, err
	}

	for _, key := range corrupt {
		if err := p.store.Delete(key); err != nil {
			logger.Warn("删除损坏的值条目失败", "error", err)
		}
	}
	if len(corrupt) > 0 {
		logger.Warn("跳过损坏的值条目", "count", len(corrupt))
	}
	return entries, nil
}

var _ EntryPersister = (*PersistentValueStore)(nil)

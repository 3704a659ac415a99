package dht

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dep2p/go-dht/internal/core/storage/kv"
	"github.com/dep2p/go-dht/pkg/types"
)

// RoutingPrefix 路由表快照在 KV 存储中的前缀
var RoutingPrefix = []byte("d/r/")

// persistedPeer 持久化的路由节点
type persistedPeer struct {
	ID       types.NodeID `json:"id"`
	Addr     string       `json:"addr"`
	LastSeen int64        `json:"last_seen"` // Unix 纳秒
	RTT      int64        `json:"rtt"`       // 纳秒

	PublicKey []byte `json:"public_key,omitempty"`
	Version   uint64 `json:"version,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// RoutingSnapshotStore 路由表快照
//
// 键格式: {bucketIdx}/{nodeID}
//
// 路由表持久化是可选的优化：重启后不必完全依赖种子节点重新发现。
// 恢复的节点状态为 Unknown，需要重新验证才会被视为存活。
type RoutingSnapshotStore struct {
	// store KV 存储（前缀 d/r/）
	store *kv.Store
}

// NewRoutingSnapshotStore 创建路由表快照存储
func NewRoutingSnapshotStore(store *kv.Store) *RoutingSnapshotStore {
	return &RoutingSnapshotStore{store: store}
}

// makeRoutingKey 生成路由表存储键
func makeRoutingKey(bucketIdx int, id types.NodeID) []byte {
	return []byte(fmt.Sprintf("%03d/%s", bucketIdx, id.String()))
}

// Save 用路由表当前内容覆盖快照
//
// 已判死的节点不写入。
func (s *RoutingSnapshotStore) Save(rt *RoutingTable) (int, error) {
	if err := s.store.Clear(); err != nil {
		return 0, fmt.Errorf("clear routing snapshot: %w", err)
	}

	batch := s.store.NewBatch()
	saved := 0
	for _, p := range rt.AllPeers() {
		if p.Liveness == types.LivenessDead {
			continue
		}
		rec := persistedPeer{
			ID:        p.ID,
			Addr:      p.Addr,
			LastSeen:  p.LastSeen.UnixNano(),
			RTT:       int64(p.RTT),
			PublicKey: p.PublicKey,
			Version:   p.Version,
			Signature: p.Signature,
		}
		if err := batch.PutJSON(makeRoutingKey(BucketIndex(rt.LocalID(), p.ID), p.ID), &rec); err != nil {
			return 0, err
		}
		saved++
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("write routing snapshot: %w", err)
	}
	return saved, nil
}

// Restore 将快照中的节点插入路由表
//
// 超过 maxAge 未见的节点和签名无效的记录被跳过。恢复不触发驱逐探测。
func (s *RoutingSnapshotStore) Restore(rt *RoutingTable, maxAge time.Duration) (int, error) {
	now := rt.clock.Now()
	var peers []types.Peer

	err := s.store.Scan(func(_, value []byte) bool {
		var rec persistedPeer
		if err := json.Unmarshal(value, &rec); err != nil {
			// 跳过损坏的数据
			return true
		}
		lastSeen := time.Unix(0, rec.LastSeen)
		if maxAge > 0 && now.Sub(lastSeen) > maxAge {
			return true
		}
		p := types.Peer{
			ID:        rec.ID,
			Addr:      rec.Addr,
			LastSeen:  lastSeen,
			RTT:       time.Duration(rec.RTT),
			Liveness:  types.LivenessUnknown,
			PublicKey: rec.PublicKey,
			Version:   rec.Version,
			Signature: rec.Signature,
		}
		if len(p.Signature) > 0 && VerifyPeerRecord(p.AddrInfo()) != nil {
			return true
		}
		peers = append(peers, p)
		return true
	})
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, p := range peers {
		if rt.TryInsert(p) == InsertAdded {
			restored++
		}
	}
	return restored, nil
}

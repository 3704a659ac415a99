package dht

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/internal/core/storage/engine"
	"github.com/dep2p/go-dht/internal/core/storage/engine/badger"
	"github.com/dep2p/go-dht/internal/core/storage/kv"
	"github.com/dep2p/go-dht/pkg/types"
)

func newMockClock() *clock.Mock {
	clk := clock.NewMock()
	clk.Set(testEpoch)
	return clk
}

func newTestValueStore(t *testing.T, persist EntryPersister) (*ValueStore, *clock.Mock) {
	t.Helper()
	clk := newMockClock()
	return NewValueStore(NewValidator(DefaultConfig()), clk, persist), clk
}

func newTestKV(t *testing.T, prefix []byte) *kv.Store {
	t.Helper()
	eng, err := badger.New(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return kv.New(eng, prefix)
}

// ============================================================================
// 值存储测试
// ============================================================================

// TestValueStore_PutGet 测试写入读取
func TestValueStore_PutGet(t *testing.T) {
	vs, _ := newTestValueStore(t, nil)
	e := newTestEntry(t, "n", []byte("hello"), 1)

	res, err := vs.Put(e)
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, e.Value, res.Current.Value)

	got, err := vs.Get(e.Key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Value)

	// 返回的是副本
	got.Value[0] = 'X'
	again, _ := vs.Get(e.Key)
	assert.Equal(t, []byte("hello"), again.Value)

	_, err = vs.Get(randomID(t))
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ Put/Get 正确")
}

// TestValueStore_RejectsInvalid 测试无效签名不修改存储
func TestValueStore_RejectsInvalid(t *testing.T) {
	vs, _ := newTestValueStore(t, nil)
	priv := newTestKey(t)

	good, err := NewSignedEntry(priv, "n", 0, []byte("good"), testEpoch, time.Hour, 1)
	require.NoError(t, err)
	_, err = vs.Put(good)
	require.NoError(t, err)

	forged, err := NewSignedEntry(priv, "n", 0, []byte("forged"), testEpoch, time.Hour, 9)
	require.NoError(t, err)
	forged.Signature[5] ^= 0x01

	_, err = vs.Put(forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	got, err := vs.Get(good.Key)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq, "存储未被修改")
	assert.Equal(t, 1, vs.Len())

	t.Log("✅ 无效签名被拒绝，存储不变")
}

// TestValueStore_ConflictResolution 测试同键冲突保留胜者
func TestValueStore_ConflictResolution(t *testing.T) {
	vs, _ := newTestValueStore(t, nil)
	priv := newTestKey(t)

	v1, _ := NewSignedEntry(priv, "n", 0, []byte("v1"), testEpoch, time.Hour, 1)
	v2, _ := NewSignedEntry(priv, "n", 0, []byte("v2"), testEpoch, time.Hour, 2)

	_, err := vs.Put(v2)
	require.NoError(t, err)

	res, err := vs.Put(v1)
	require.NoError(t, err, "旧版本不是错误")
	assert.False(t, res.Stored)
	assert.Equal(t, uint64(2), res.Current.Seq)

	got, _ := vs.Get(v1.Key)
	assert.Equal(t, []byte("v2"), got.Value)

	t.Log("✅ 较高序列号胜出")
}

// TestValueStore_ConflictDeterministic 测试两个存储以相反顺序接收后结果一致
func TestValueStore_ConflictDeterministic(t *testing.T) {
	priv := newTestKey(t)
	a, _ := NewSignedEntry(priv, "n", 0, []byte("alpha"), testEpoch, time.Hour, 5)
	b, _ := NewSignedEntry(priv, "n", 0, []byte("beta"), testEpoch, time.Hour, 5)

	s1, _ := newTestValueStore(t, nil)
	s2, _ := newTestValueStore(t, nil)

	_, _ = s1.Put(a)
	_, _ = s1.Put(b)
	_, _ = s2.Put(b)
	_, _ = s2.Put(a)

	g1, err := s1.Get(a.Key)
	require.NoError(t, err)
	g2, err := s2.Get(a.Key)
	require.NoError(t, err)
	assert.Equal(t, g1.Value, g2.Value)
	assert.Equal(t, g1.Signature, g2.Signature)

	t.Log("✅ 冲突结果与到达顺序无关")
}

// TestValueStore_Expiry 测试过期条目在清理前也不可见
func TestValueStore_Expiry(t *testing.T) {
	vs, clk := newTestValueStore(t, nil)
	e := newTestEntry(t, "n", []byte("x"), 1)
	_, err := vs.Put(e)
	require.NoError(t, err)

	clk.Add(time.Hour + time.Second)

	_, err = vs.Get(e.Key)
	assert.ErrorIs(t, err, ErrNotFound, "过期后不可读")
	assert.Equal(t, 1, vs.Len(), "清理前仍占位")

	count := 0
	vs.ForEach(func(*ValueEntry) bool { count++; return true })
	assert.Zero(t, count)

	assert.Equal(t, 1, vs.Sweep())
	assert.Equal(t, 0, vs.Len())

	t.Log("✅ 过期条目读取即不可见，清理后删除")
}

// TestValueStore_ReplaceExpired 测试已过期的旧条目可被低序列号新条目替换
func TestValueStore_ReplaceExpired(t *testing.T) {
	vs, clk := newTestValueStore(t, nil)
	priv := newTestKey(t)

	old, _ := NewSignedEntry(priv, "n", 0, []byte("old"), testEpoch, time.Minute, 9)
	_, err := vs.Put(old)
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	fresh, _ := NewSignedEntry(priv, "n", 0, []byte("new"), clk.Now(), time.Hour, 1)
	res, err := vs.Put(fresh)
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Equal(t, 1, vs.Len())
}

// TestValueStore_Delete 测试删除
func TestValueStore_Delete(t *testing.T) {
	vs, _ := newTestValueStore(t, nil)
	e := newTestEntry(t, "n", nil, 1)
	_, _ = vs.Put(e)

	assert.True(t, vs.Delete(e.Key))
	assert.False(t, vs.Delete(e.Key))
	assert.Equal(t, 0, vs.Len())
}

// ============================================================================
// 持久化测试
// ============================================================================

// TestValueStore_Persistence 测试写穿与重新加载
func TestValueStore_Persistence(t *testing.T) {
	store := newTestKV(t, ValuePrefix)
	persist := NewPersistentValueStore(store)

	vs, _ := newTestValueStore(t, persist)
	keep := newTestEntry(t, "keep", []byte("k"), 1)
	short, err := NewSignedEntry(newTestKey(t), "short", 0, []byte("s"), testEpoch, time.Minute, 1)
	require.NoError(t, err)
	_, err = vs.Put(keep)
	require.NoError(t, err)
	_, err = vs.Put(short)
	require.NoError(t, err)

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 重启：short 已过期，加载时被丢弃并从后端删除
	reloaded, clk := newTestValueStore(t, persist)
	clk.Add(10 * time.Minute)
	loaded, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	got, err := reloaded.Get(keep.Key)
	require.NoError(t, err)
	assert.Equal(t, keep.Signature, got.Signature)
	assert.NoError(t, VerifyEntrySignature(got), "持久化后签名仍然有效")

	n, _ = store.Len()
	assert.Equal(t, 1, n)

	t.Log("✅ 值条目持久化与加载正确")
}

// TestPersistentValueStore_Corrupt 测试损坏数据被跳过并删除
func TestPersistentValueStore_Corrupt(t *testing.T) {
	store := newTestKV(t, ValuePrefix)
	persist := NewPersistentValueStore(store)

	require.NoError(t, store.Put([]byte("garbage"), []byte("{not json")))
	require.NoError(t, persist.SaveEntry(newTestEntry(t, "n", nil, 1)))

	entries, err := persist.LoadEntries()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = store.Get([]byte("garbage"))
	assert.True(t, engine.IsNotFound(err), "损坏数据已被删除")

	assert.NoError(t, persist.DeleteEntry(randomID(t)), "删除不存在的键不报错")
}

// TestRoutingSnapshot_SaveRestore 测试路由表快照
func TestRoutingSnapshot_SaveRestore(t *testing.T) {
	store := newTestKV(t, RoutingPrefix)
	snaps := NewRoutingSnapshotStore(store)

	rt, clk := newTestTable(t, 20, nil)
	var ids []types.NodeID
	for i := 0; i < 10; i++ {
		id := randomID(t)
		ids = append(ids, id)
		rt.InsertOrRefresh(context.Background(), types.Peer{ID: id, Addr: "addr", Liveness: types.LivenessAlive})
	}
	for i := 0; i < 3; i++ {
		rt.MarkDead(ids[0])
	}

	// 签名记录原样保存；被篡改的记录在恢复时跳过
	signed := signedPeer(t, "signed-addr")
	tampered := signedPeer(t, "real-addr")
	tampered.Addr = "forged-addr"
	for _, rec := range []types.PeerAddr{signed, tampered} {
		p := types.PeerFromAddr(rec)
		p.Liveness = types.LivenessAlive
		rt.InsertOrRefresh(context.Background(), p)
	}

	saved, err := snaps.Save(rt)
	require.NoError(t, err)
	assert.Equal(t, 11, saved, "Dead 节点不写入快照")

	cfg := DefaultConfig()
	cfg.Clock = clk
	fresh := NewRoutingTable(rt.LocalID(), cfg, nil)
	restored, err := snaps.Restore(fresh, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10, restored)

	p, ok := fresh.Get(signed.ID)
	require.True(t, ok)
	assert.NoError(t, VerifyPeerRecord(p.AddrInfo()))
	_, ok = fresh.Get(tampered.ID)
	assert.False(t, ok, "签名无效的记录不恢复")

	for _, id := range ids[1:] {
		p, ok := fresh.Get(id)
		require.True(t, ok)
		assert.Equal(t, types.LivenessUnknown, p.Liveness, "恢复的节点需要重新验证")
	}

	// 超过 maxAge 的快照节点被跳过
	clk.Add(2 * time.Hour)
	stale := NewRoutingTable(rt.LocalID(), cfg, nil)
	restored, err = snaps.Restore(stale, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, restored)

	t.Log("✅ 路由表快照保存与恢复正确")
}

package dht

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/pkg/types"
)

func newTestTable(t *testing.T, k int, pinger Pinger) (*RoutingTable, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	cfg := DefaultConfig()
	cfg.BucketSize = k
	cfg.Alpha = 1
	cfg.Clock = clk
	cfg.QueryTimeout = 100 * time.Millisecond
	return NewRoutingTable(randomID(t), cfg, pinger), clk
}

func alivePeer(id types.NodeID) types.Peer {
	return types.Peer{ID: id, Addr: "addr-" + id.ShortString(), Liveness: types.LivenessAlive}
}

// fillBucket 向桶 idx 插入 n 个已验证节点，返回插入顺序
func fillBucket(t *testing.T, rt *RoutingTable, idx, n int) []types.NodeID {
	t.Helper()
	ids := make([]types.NodeID, n)
	for i := range ids {
		ids[i] = RandomIDInBucket(rt.LocalID(), idx)
		require.Equal(t, InsertAdded, rt.InsertOrRefresh(context.Background(), alivePeer(ids[i])))
	}
	return ids
}

// ============================================================================
// 插入与刷新测试
// ============================================================================

// TestRoutingTable_InsertRejectsSelf 测试拒绝本节点和空 ID
func TestRoutingTable_InsertRejectsSelf(t *testing.T) {
	rt, _ := newTestTable(t, 4, nil)

	assert.Equal(t, InsertRejected, rt.InsertOrRefresh(context.Background(), alivePeer(rt.LocalID())))
	assert.Equal(t, InsertRejected, rt.TryInsert(types.Peer{}))
	assert.Equal(t, 0, rt.Size())

	t.Log("✅ 本节点和空 ID 被拒绝")
}

// TestRoutingTable_InsertAndRefresh 测试新增与刷新
func TestRoutingTable_InsertAndRefresh(t *testing.T) {
	rt, clk := newTestTable(t, 4, nil)
	ids := fillBucket(t, rt, 0, 3)

	// 已验证节点在队首：最后插入的排第一
	assert.Equal(t, ids[2], rt.buckets[0].peers[0].ID)

	clk.Add(time.Minute)
	res := rt.InsertOrRefresh(context.Background(), types.Peer{ID: ids[0], Liveness: types.LivenessAlive, RTT: 10 * time.Millisecond})
	assert.Equal(t, InsertRefreshed, res)
	assert.Equal(t, ids[0], rt.buckets[0].peers[0].ID, "刷新后移到队首")

	p, ok := rt.Get(ids[0])
	require.True(t, ok)
	assert.Equal(t, clk.Now(), p.LastSeen)
	assert.Equal(t, 10*time.Millisecond, p.RTT)

	// 未验证的提及不改变排名
	assert.Equal(t, InsertRefreshed, rt.InsertOrRefresh(context.Background(), types.Peer{ID: ids[1]}))
	assert.Equal(t, ids[0], rt.buckets[0].peers[0].ID)
	assert.Equal(t, 3, rt.Size())

	t.Log("✅ 插入与刷新正确")
}

// TestRoutingTable_EvictUnresponsive 测试桶满时驱逐无响应的最久未见节点
func TestRoutingTable_EvictUnresponsive(t *testing.T) {
	pinger := &stubPinger{err: errors.New("timeout")}
	rt, _ := newTestTable(t, 4, pinger)
	ids := fillBucket(t, rt, 0, 4)

	newcomer := RandomIDInBucket(rt.LocalID(), 0)
	res := rt.InsertOrRefresh(context.Background(), alivePeer(newcomer))

	assert.Equal(t, InsertReplaced, res)
	assert.Equal(t, rt.probes, pinger.calls, "失败前探测 EvictionProbes 次")
	_, ok := rt.Get(ids[0])
	assert.False(t, ok, "最久未见的节点被驱逐")
	_, ok = rt.Get(newcomer)
	assert.True(t, ok)
	assert.Equal(t, 4, rt.Size())

	t.Log("✅ 无响应节点被驱逐")
}

// TestRoutingTable_KeepResponsive 测试旧节点存活时丢弃新节点
func TestRoutingTable_KeepResponsive(t *testing.T) {
	pinger := &stubPinger{}
	rt, _ := newTestTable(t, 4, pinger)
	ids := fillBucket(t, rt, 0, 4)

	newcomer := RandomIDInBucket(rt.LocalID(), 0)
	res := rt.InsertOrRefresh(context.Background(), alivePeer(newcomer))

	assert.Equal(t, InsertDropped, res)
	assert.Equal(t, 1, pinger.calls)
	_, ok := rt.Get(newcomer)
	assert.False(t, ok)
	assert.Equal(t, ids[0], rt.buckets[0].peers[0].ID, "探测成功的节点移到队首")
	require.Len(t, rt.buckets[0].replacements, 1)
	assert.Equal(t, newcomer, rt.buckets[0].replacements[0].ID)

	// 移除一个节点时替换缓存补位
	require.True(t, rt.Remove(ids[1]))
	_, ok = rt.Get(newcomer)
	assert.True(t, ok)
	assert.Equal(t, 4, rt.Size())

	t.Log("✅ 长期在线节点优先保留")
}

// TestRoutingTable_CancelKeepsTail 测试活性检查期间调用方取消时保留队尾
//
// 取消不是对端无响应的证据，队尾节点必须留在桶中，新节点进入替换缓存。
func TestRoutingTable_CancelKeepsTail(t *testing.T) {
	calls := make(chan struct{}, 8)
	pinger := PingerFunc(func(ctx context.Context, _ types.PeerAddr) error {
		calls <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	rt, _ := newTestTable(t, 1, pinger)
	ids := fillBucket(t, rt, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-calls
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	newcomer := RandomIDInBucket(rt.LocalID(), 0)
	res := rt.InsertOrRefresh(ctx, alivePeer(newcomer))

	assert.Equal(t, InsertDropped, res)
	p, ok := rt.Get(ids[0])
	require.True(t, ok, "被取消的检查不驱逐队尾")
	assert.Equal(t, types.LivenessAlive, p.Liveness)
	_, ok = rt.Get(newcomer)
	assert.False(t, ok)
	require.Len(t, rt.buckets[0].replacements, 1)
	assert.Equal(t, newcomer, rt.buckets[0].replacements[0].ID)
	assert.False(t, rt.buckets[0].probing, "检查标记已清除")
	assert.Len(t, calls, 0, "取消后不再重试")

	t.Log("✅ 取消的活性检查保留队尾")
}

// TestRoutingTable_CancelledBeforeCheck 测试已取消的 ctx 不发出任何检查
func TestRoutingTable_CancelledBeforeCheck(t *testing.T) {
	pinger := &stubPinger{err: errors.New("timeout")}
	rt, _ := newTestTable(t, 2, pinger)
	ids := fillBucket(t, rt, 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, InsertDropped, rt.InsertOrRefresh(ctx, alivePeer(RandomIDInBucket(rt.LocalID(), 0))))
	assert.Zero(t, pinger.calls)
	for _, id := range ids {
		_, ok := rt.Get(id)
		assert.True(t, ok)
	}
}

// TestRoutingTable_DeadReplacedWithoutProbe 测试已判死节点直接被替换
func TestRoutingTable_DeadReplacedWithoutProbe(t *testing.T) {
	pinger := &stubPinger{}
	rt, _ := newTestTable(t, 4, pinger)
	ids := fillBucket(t, rt, 0, 4)

	assert.Equal(t, types.LivenessStale, rt.MarkDead(ids[2]))
	assert.Equal(t, types.LivenessStale, rt.MarkDead(ids[2]))
	assert.Equal(t, types.LivenessDead, rt.MarkDead(ids[2]))

	newcomer := RandomIDInBucket(rt.LocalID(), 0)
	assert.Equal(t, InsertReplaced, rt.InsertOrRefresh(context.Background(), alivePeer(newcomer)))
	assert.Zero(t, pinger.calls)
	_, ok := rt.Get(ids[2])
	assert.False(t, ok)

	t.Log("✅ Dead 节点无需探测即被替换")
}

// TestRoutingTable_NoPingerDrops 测试没有探测器时进入替换缓存
func TestRoutingTable_NoPingerDrops(t *testing.T) {
	rt, _ := newTestTable(t, 2, nil)
	fillBucket(t, rt, 3, 2)

	assert.Equal(t, InsertDropped, rt.InsertOrRefresh(context.Background(), alivePeer(RandomIDInBucket(rt.LocalID(), 3))))
	assert.Equal(t, InsertDropped, rt.TryInsert(alivePeer(RandomIDInBucket(rt.LocalID(), 3))))
	assert.Equal(t, 2, rt.Size())
	assert.Len(t, rt.buckets[3].replacements, 2)
}

// ============================================================================
// 节点记录测试
// ============================================================================

// TestRoutingTable_RecordVersions 测试地址只被更高版本的签名记录改写
func TestRoutingTable_RecordVersions(t *testing.T) {
	rt, _ := newTestTable(t, 4, nil)
	priv := newTestKey(t)

	v2, err := SignPeerRecord(priv, "addr-v2", 2)
	require.NoError(t, err)
	require.Equal(t, InsertAdded, rt.TryInsert(types.PeerFromAddr(v2)))

	// 未签名地址不能改写签名记录
	rt.InsertOrRefresh(context.Background(), types.Peer{ID: v2.ID, Addr: "spoofed", Liveness: types.LivenessAlive})
	p, _ := rt.Get(v2.ID)
	assert.Equal(t, "addr-v2", p.Addr)

	v1, err := SignPeerRecord(priv, "addr-v1", 1)
	require.NoError(t, err)
	assert.False(t, rt.UpdateRecord(v1), "旧版本被忽略")
	assert.Equal(t, InsertRefreshed, rt.TryInsert(types.PeerFromAddr(v1)))
	p, _ = rt.Get(v2.ID)
	assert.Equal(t, "addr-v2", p.Addr)

	v3, err := SignPeerRecord(priv, "addr-v3", 3)
	require.NoError(t, err)
	assert.True(t, rt.UpdateRecord(v3))
	p, _ = rt.Get(v2.ID)
	assert.Equal(t, "addr-v3", p.Addr)
	assert.Equal(t, uint64(3), p.Version)
	assert.NoError(t, VerifyPeerRecord(p.AddrInfo()), "表中保存完整的签名记录")

	assert.False(t, rt.UpdateRecord(signedPeer(t, "elsewhere")), "不在表中")

	t.Log("✅ 节点记录按版本更新")
}

// ============================================================================
// 活性测试
// ============================================================================

// TestRoutingTable_MarkDeadAndAlive 测试三次失败判死与恢复
func TestRoutingTable_MarkDeadAndAlive(t *testing.T) {
	rt, _ := newTestTable(t, 4, nil)
	ids := fillBucket(t, rt, 1, 2)

	assert.Equal(t, types.LivenessUnknown, rt.MarkDead(randomID(t)), "不在表中")

	rt.MarkDead(ids[0])
	rt.MarkDead(ids[0])
	assert.True(t, rt.MarkAlive(ids[0], 0))

	p, _ := rt.Get(ids[0])
	assert.Equal(t, types.LivenessAlive, p.Liveness)
	assert.Zero(t, p.Failures, "成功清零失败计数")

	for i := 0; i < 3; i++ {
		rt.MarkDead(ids[0])
	}
	p, _ = rt.Get(ids[0])
	assert.Equal(t, types.LivenessDead, p.Liveness)

	// Dead 节点不出现在查询结果中
	for _, c := range rt.Closest(ids[0], 10) {
		assert.NotEqual(t, ids[0], c.ID)
	}

	removed := rt.RemoveDead()
	require.Len(t, removed, 1)
	assert.Equal(t, ids[0], removed[0].ID)
	assert.Equal(t, 1, rt.Size())

	t.Log("✅ 活性状态迁移正确")
}

// TestRoutingTable_StalePeers 测试长时间未见的节点
func TestRoutingTable_StalePeers(t *testing.T) {
	rt, clk := newTestTable(t, 4, nil)
	ids := fillBucket(t, rt, 0, 2)

	clk.Add(20 * time.Minute)
	assert.Len(t, rt.StalePeers(15*time.Minute), 2)

	rt.MarkAlive(ids[0], time.Millisecond)
	stale := rt.StalePeers(15 * time.Minute)
	require.Len(t, stale, 1)
	assert.Equal(t, ids[1], stale[0].ID)
}

// TestRoutingTable_BucketsNeedingRefresh 测试陈旧桶
func TestRoutingTable_BucketsNeedingRefresh(t *testing.T) {
	rt, clk := newTestTable(t, 4, nil)
	assert.Empty(t, rt.BucketsNeedingRefresh(time.Hour), "空表无需刷新")

	fillBucket(t, rt, 0, 1)
	fillBucket(t, rt, 2, 1)
	assert.Empty(t, rt.BucketsNeedingRefresh(time.Hour))

	clk.Add(2 * time.Hour)
	assert.Equal(t, []int{0, 1, 2, 3}, rt.BucketsNeedingRefresh(time.Hour))

	rt.MarkBucketQueried(RandomIDInBucket(rt.LocalID(), 1))
	assert.Equal(t, []int{0, 2, 3}, rt.BucketsNeedingRefresh(time.Hour))

	t.Log("✅ 陈旧桶检测正确")
}

// ============================================================================
// 结构不变量测试
// ============================================================================

// TestRoutingTable_BucketInvariants 测试桶容量上限和不相交
func TestRoutingTable_BucketInvariants(t *testing.T) {
	rt, _ := newTestTable(t, 3, nil)
	for i := 0; i < 300; i++ {
		rt.TryInsert(types.Peer{ID: randomID(t), Addr: "x"})
	}

	seen := make(map[types.NodeID]int)
	total := 0
	for idx, b := range rt.buckets {
		assert.LessOrEqual(t, len(b.peers), 3, "bucket %d", idx)
		for _, p := range b.peers {
			assert.Equal(t, idx, BucketIndex(rt.LocalID(), p.ID))
			seen[p.ID]++
			total++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "peer %s 出现在多个位置", id.ShortString())
	}
	assert.Equal(t, rt.Size(), total)

	t.Log("✅ 每个节点只在一个桶中，桶不超过 K")
}

// TestRoutingTable_Closest 测试最近节点选择
func TestRoutingTable_Closest(t *testing.T) {
	rt, _ := newTestTable(t, 20, nil)
	var all []types.NodeID
	for i := 0; i < 60; i++ {
		id := randomID(t)
		if rt.TryInsert(types.Peer{ID: id, Addr: "x"}) == InsertAdded {
			all = append(all, id)
		}
	}

	target := randomID(t)
	got := rt.Closest(target, 10)
	require.Len(t, got, 10)
	assert.True(t, isSortedByDistance(got, target))

	// 结果是表中真正最近的 10 个
	want := sortedIDs(all, target)[:10]
	assert.Equal(t, want, peerIDs(got))

	assert.Nil(t, rt.Closest(target, 0))
	assert.Len(t, rt.Closest(target, 1000), len(all))

	t.Log("✅ Closest 返回真正最近的节点并按距离排序")
}

// TestRoutingTable_Concurrent 测试并发插入与查询
func TestRoutingTable_Concurrent(t *testing.T) {
	rt, _ := newTestTable(t, 8, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := randomID(t)
				rt.TryInsert(types.Peer{ID: id, Addr: "x"})
				rt.Closest(id, 5)
				rt.MarkDead(id)
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, n := range rt.BucketSizes() {
		total += n
	}
	assert.Equal(t, rt.Size(), total)
}

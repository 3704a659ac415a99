package dht

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              探测接口
// ============================================================================

// Pinger 桶满时用于探测最久未见节点
type Pinger interface {
	Ping(ctx context.Context, peer types.PeerAddr) error
}

// PingerFunc 函数适配器
type PingerFunc func(ctx context.Context, peer types.PeerAddr) error

// Ping 实现 Pinger
func (f PingerFunc) Ping(ctx context.Context, peer types.PeerAddr) error {
	return f(ctx, peer)
}

// InsertResult InsertOrRefresh 的结果
type InsertResult int

const (
	// InsertAdded 新节点加入桶
	InsertAdded InsertResult = iota
	// InsertRefreshed 已有节点被刷新
	InsertRefreshed
	// InsertReplaced 驱逐了失效节点后加入
	InsertReplaced
	// InsertDropped 桶满且旧节点仍存活，新节点进入替换缓存
	InsertDropped
	// InsertRejected 本节点自身或空 ID
	InsertRejected
)

// String 返回结果名称
func (r InsertResult) String() string {
	switch r {
	case InsertAdded:
		return "added"
	case InsertRefreshed:
		return "refreshed"
	case InsertReplaced:
		return "replaced"
	case InsertDropped:
		return "dropped"
	case InsertRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              K 桶
// ============================================================================

// kbucket K 桶
//
// 节点按值保存，最近确认存活的在前；队尾是驱逐候选。
type kbucket struct {
	mu sync.RWMutex

	// 节点列表（最近确认存活的在前）
	peers []types.Peer

	// 替换缓存（桶满时的候选节点，最新的在前）
	replacements []types.Peer

	// 最后一次针对该桶区间的查找时间
	lastQueried time.Time

	// 是否有驱逐探测在进行
	probing bool
}

func (b *kbucket) indexOf(id types.NodeID) int {
	for i := range b.peers {
		if b.peers[i].ID == id {
			return i
		}
	}
	return -1
}

// moveToFront 将位置 i 的节点移到队首
func (b *kbucket) moveToFront(i int) {
	if i == 0 {
		return
	}
	p := b.peers[i]
	copy(b.peers[1:i+1], b.peers[:i])
	b.peers[0] = p
}

// removeAt 移除位置 i 的节点
func (b *kbucket) removeAt(i int) types.Peer {
	p := b.peers[i]
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
	return p
}

// addReplacement 加入替换缓存（去重，最新的在前，容量 k）
func (b *kbucket) addReplacement(p types.Peer, k int) {
	for i := range b.replacements {
		if b.replacements[i].ID == p.ID {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			break
		}
	}
	b.replacements = append([]types.Peer{p}, b.replacements...)
	if len(b.replacements) > k {
		b.replacements = b.replacements[:k]
	}
}

// promoteReplacement 从替换缓存中补位一个节点
func (b *kbucket) promoteReplacement() (types.Peer, bool) {
	if len(b.replacements) == 0 {
		return types.Peer{}, false
	}
	p := b.replacements[0]
	b.replacements = b.replacements[1:]
	b.peers = append(b.peers, p)
	return p, true
}

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable Kademlia 路由表
//
// 每个桶有独立的锁，不同桶上的操作互不阻塞；没有覆盖整个表的锁。
type RoutingTable struct {
	local   types.NodeID
	buckets [NumBuckets]*kbucket

	k           int
	probes      int
	deadStrikes int
	probeWait   time.Duration

	pinger Pinger
	clock  clock.Clock

	size atomic.Int64
}

// NewRoutingTable 创建路由表
func NewRoutingTable(local types.NodeID, cfg *Config, pinger Pinger) *RoutingTable {
	now := cfg.Clock.Now()
	rt := &RoutingTable{
		local:       local,
		k:           cfg.BucketSize,
		probes:      cfg.EvictionProbes,
		deadStrikes: cfg.DeadStrikes,
		probeWait:   cfg.QueryTimeout,
		pinger:      pinger,
		clock:       cfg.Clock,
	}
	for i := range rt.buckets {
		rt.buckets[i] = &kbucket{
			peers:       make([]types.Peer, 0, cfg.BucketSize),
			lastQueried: now,
		}
	}
	return rt
}

// LocalID 返回本地节点 ID
func (rt *RoutingTable) LocalID() types.NodeID {
	return rt.local
}

// BucketSize 返回 K
func (rt *RoutingTable) BucketSize() int {
	return rt.k
}

func (rt *RoutingTable) bucketFor(id types.NodeID) *kbucket {
	idx := BucketIndex(rt.local, id)
	if idx < 0 {
		return nil
	}
	return rt.buckets[idx]
}

// InsertOrRefresh 插入或刷新节点
//
// peer.Liveness == Alive 表示刚刚验证过（例如它回复了我们的查询），
// 这会把节点移到队首；其他状态只是被提及，不改变排名。
//
// 桶满时探测队尾节点（最多 EvictionProbes 次，探测期间不持有桶锁）：
// 探测失败则驱逐并插入新节点，成功则新节点进入替换缓存。
// ctx 在探测期间被取消时队尾保持不变，新节点进入替换缓存。
func (rt *RoutingTable) InsertOrRefresh(ctx context.Context, peer types.Peer) InsertResult {
	if peer.ID.IsEmpty() || peer.ID == rt.local {
		return InsertRejected
	}
	b := rt.bucketFor(peer.ID)
	now := rt.clock.Now()
	verified := peer.Liveness == types.LivenessAlive

	b.mu.Lock()
	if i := b.indexOf(peer.ID); i >= 0 {
		existing := &b.peers[i]
		refreshRecord(existing, peer, verified)
		if verified {
			existing.Liveness = types.LivenessAlive
			existing.Failures = 0
			existing.LastSeen = now
			if peer.RTT > 0 {
				existing.RTT = ewma(existing.RTT, peer.RTT)
			}
			b.moveToFront(i)
		}
		b.mu.Unlock()
		return InsertRefreshed
	}

	entry := newEntry(peer, now, verified)

	if len(b.peers) < rt.k {
		rt.insertLocked(b, entry)
		b.mu.Unlock()
		return InsertAdded
	}

	// 桶满：已判死的节点直接替换，不需要探测
	for i := len(b.peers) - 1; i >= 0; i-- {
		if b.peers[i].Liveness == types.LivenessDead {
			evicted := b.removeAt(i)
			rt.size.Add(-1)
			rt.insertLocked(b, entry)
			b.mu.Unlock()
			logger.Debug("替换已失效节点", "evicted", evicted.ID.ShortString(), "peer", peer.ID.ShortString())
			return InsertReplaced
		}
	}

	if b.probing || rt.pinger == nil {
		b.addReplacement(entry, rt.k)
		b.mu.Unlock()
		return InsertDropped
	}

	tail := b.peers[len(b.peers)-1]
	b.probing = true
	b.mu.Unlock()

	err := rt.probe(ctx, tail.AddrInfo())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	i := b.indexOf(tail.ID)
	switch {
	case i < 0:
		// 探测期间队尾已被移除
		if len(b.peers) < rt.k {
			rt.insertLocked(b, entry)
			return InsertAdded
		}
		b.addReplacement(entry, rt.k)
		return InsertDropped

	case errors.Is(err, errLivenessCheckAborted):
		// 没有得到结论，队尾保持原状
		b.addReplacement(entry, rt.k)
		logger.Debug("活性检查被取消，保留队尾", "tail", tail.ID.ShortString(), "peer", peer.ID.ShortString())
		return InsertDropped

	case err != nil:
		b.removeAt(i)
		rt.size.Add(-1)
		rt.insertLocked(b, entry)
		logger.Debug("驱逐无响应节点", "evicted", tail.ID.ShortString(), "peer", peer.ID.ShortString(), "reason", errBucketFullProbeFailed)
		return InsertReplaced

	default:
		p := &b.peers[i]
		p.Liveness = types.LivenessAlive
		p.Failures = 0
		p.LastSeen = rt.clock.Now()
		b.moveToFront(i)
		b.addReplacement(entry, rt.k)
		return InsertDropped
	}
}

// TryInsert 插入节点但从不探测
//
// 桶满时新节点进入替换缓存并返回 InsertDropped；已在表中的节点不变。
func (rt *RoutingTable) TryInsert(peer types.Peer) InsertResult {
	if peer.ID.IsEmpty() || peer.ID == rt.local {
		return InsertRejected
	}
	b := rt.bucketFor(peer.ID)
	entry := newEntry(peer, rt.clock.Now(), peer.Liveness == types.LivenessAlive)

	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.indexOf(peer.ID); i >= 0 {
		refreshRecord(&b.peers[i], peer, false)
		return InsertRefreshed
	}
	if len(b.peers) < rt.k {
		rt.insertLocked(b, entry)
		return InsertAdded
	}
	b.addReplacement(entry, rt.k)
	return InsertDropped
}

// probe 对节点最多探测 probes 次
//
// ctx 在探测前或探测中被取消时返回 errLivenessCheckAborted，
// 此时的失败不代表节点无响应。
func (rt *RoutingTable) probe(ctx context.Context, peer types.PeerAddr) error {
	var err error
	for attempt := 0; attempt < rt.probes; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errLivenessCheckAborted, ctx.Err())
		}
		pctx, cancel := context.WithTimeout(ctx, rt.probeWait)
		err = rt.pinger.Ping(pctx, peer)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", errLivenessCheckAborted, ctx.Err())
		}
	}
	return err
}

// refreshRecord 更新已知节点的地址
//
// 签名记录只被更高版本取代；未签名的地址只能填充未签名的条目。
func refreshRecord(existing *types.Peer, peer types.Peer, verified bool) {
	rec := peer.AddrInfo()
	if existing.NewerRecord(rec) {
		existing.SetRecord(rec)
		return
	}
	if peer.Addr == "" || rec.Signed() || len(existing.Signature) > 0 {
		return
	}
	if verified || existing.Addr == "" {
		existing.Addr = peer.Addr
	}
}

// UpdateRecord 用更高版本的签名记录改写已知节点的地址
//
// 节点不在表中或记录不更新时返回 false。调用方负责先验证签名。
func (rt *RoutingTable) UpdateRecord(rec types.PeerAddr) bool {
	b := rt.bucketFor(rec.ID)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(rec.ID)
	if i < 0 || !b.peers[i].NewerRecord(rec) {
		return false
	}
	old := b.peers[i].Addr
	b.peers[i].SetRecord(rec)
	logger.Debug("节点记录已更新", "peer", rec.ID.ShortString(), "old", old, "new", rec.Addr, "version", rec.Version)
	return true
}

// insertLocked 插入新节点，调用方持有桶锁且桶未满
func (rt *RoutingTable) insertLocked(b *kbucket, p types.Peer) {
	for i := range b.replacements {
		if b.replacements[i].ID == p.ID {
			b.replacements = append(b.replacements[:i], b.replacements[i+1:]...)
			break
		}
	}
	if p.Liveness == types.LivenessAlive {
		b.peers = append([]types.Peer{p}, b.peers...)
	} else {
		b.peers = append(b.peers, p)
	}
	rt.size.Add(1)
}

func newEntry(peer types.Peer, now time.Time, verified bool) types.Peer {
	p := types.Peer{
		ID:        peer.ID,
		Addr:      peer.Addr,
		Liveness:  types.LivenessUnknown,
		LastSeen:  peer.LastSeen,
		RTT:       peer.RTT,
		PublicKey: peer.PublicKey,
		Version:   peer.Version,
		Signature: peer.Signature,
	}
	if verified {
		p.Liveness = types.LivenessAlive
		p.LastSeen = now
	}
	return p
}

// ewma 往返延迟指数加权平均（权重 1/8）
func ewma(prev, sample time.Duration) time.Duration {
	if prev <= 0 {
		return sample
	}
	return (prev*7 + sample) / 8
}

// MarkAlive 标记节点存活
//
// 清零失败计数并移到队首。节点不在表中时返回 false。
func (rt *RoutingTable) MarkAlive(id types.NodeID, rtt time.Duration) bool {
	b := rt.bucketFor(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	p := &b.peers[i]
	p.Liveness = types.LivenessAlive
	p.Failures = 0
	p.LastSeen = rt.clock.Now()
	if rtt > 0 {
		p.RTT = ewma(p.RTT, rtt)
	}
	b.moveToFront(i)
	return true
}

// MarkDead 记录一次失败
//
// 连续失败达到 DeadStrikes 次后节点变为 Dead，等待下一次桶压力或维护清理时驱逐；
// 未达到阈值时为 Stale。返回更新后的状态，节点不在表中时返回 Unknown。
func (rt *RoutingTable) MarkDead(id types.NodeID) types.Liveness {
	b := rt.bucketFor(id)
	if b == nil {
		return types.LivenessUnknown
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return types.LivenessUnknown
	}
	p := &b.peers[i]
	p.Failures++
	if p.Failures >= rt.deadStrikes {
		p.Liveness = types.LivenessDead
	} else {
		p.Liveness = types.LivenessStale
	}
	return p.Liveness
}

// Get 获取节点快照
func (rt *RoutingTable) Get(id types.NodeID) (types.Peer, bool) {
	b := rt.bucketFor(id)
	if b == nil {
		return types.Peer{}, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if i := b.indexOf(id); i >= 0 {
		return b.peers[i], true
	}
	return types.Peer{}, false
}

// Remove 移除节点，并从替换缓存补位
func (rt *RoutingTable) Remove(id types.NodeID) bool {
	b := rt.bucketFor(id)
	if b == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.removeAt(i)
	rt.size.Add(-1)
	if _, ok := b.promoteReplacement(); ok {
		rt.size.Add(1)
	}
	return true
}

// Size 返回路由表中的节点总数
func (rt *RoutingTable) Size() int {
	return int(rt.size.Load())
}

// Closest 返回最多 n 个距离 target 最近的节点（按距离升序）
//
// 不包含已判死的节点。纯读操作，返回副本。
func (rt *RoutingTable) Closest(target types.NodeID, n int) []types.Peer {
	if n <= 0 {
		return nil
	}

	all := make([]types.Peer, 0, rt.Size())
	for _, b := range rt.buckets {
		b.mu.RLock()
		for _, p := range b.peers {
			if p.Liveness != types.LivenessDead {
				all = append(all, p)
			}
		}
		b.mu.RUnlock()
	}

	sortByDistance(all, target)
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// sortByDistance 按到 target 的距离升序排序
func sortByDistance(peers []types.Peer, target types.NodeID) {
	sort.Slice(peers, func(i, j int) bool {
		return Closer(target, peers[i].ID, peers[j].ID)
	})
}

// AllPeers 返回所有节点快照
func (rt *RoutingTable) AllPeers() []types.Peer {
	all := make([]types.Peer, 0, rt.Size())
	for _, b := range rt.buckets {
		b.mu.RLock()
		all = append(all, b.peers...)
		b.mu.RUnlock()
	}
	return all
}

// BucketSizes 返回每个桶的节点数
func (rt *RoutingTable) BucketSizes() [NumBuckets]int {
	var sizes [NumBuckets]int
	for i, b := range rt.buckets {
		b.mu.RLock()
		sizes[i] = len(b.peers)
		b.mu.RUnlock()
	}
	return sizes
}

// MarkBucketQueried 记录一次针对 target 所在桶区间的查找
func (rt *RoutingTable) MarkBucketQueried(target types.NodeID) {
	b := rt.bucketFor(target)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.lastQueried = rt.clock.Now()
	b.mu.Unlock()
}

// BucketsNeedingRefresh 返回超过 staleAfter 未被查询的桶索引
//
// 只考虑到最深非空桶的下一层为止，更深的桶在小网络中必然为空。
func (rt *RoutingTable) BucketsNeedingRefresh(staleAfter time.Duration) []int {
	deepest := -1
	for i := NumBuckets - 1; i >= 0; i-- {
		b := rt.buckets[i]
		b.mu.RLock()
		n := len(b.peers)
		b.mu.RUnlock()
		if n > 0 {
			deepest = i
			break
		}
	}
	if deepest < 0 {
		return nil
	}

	limit := deepest + 1
	if limit >= NumBuckets {
		limit = NumBuckets - 1
	}

	now := rt.clock.Now()
	var stale []int
	for i := 0; i <= limit; i++ {
		b := rt.buckets[i]
		b.mu.RLock()
		last := b.lastQueried
		b.mu.RUnlock()
		if now.Sub(last) >= staleAfter {
			stale = append(stale, i)
		}
	}
	return stale
}

// StalePeers 返回 LastSeen 早于 olderThan 的节点
func (rt *RoutingTable) StalePeers(olderThan time.Duration) []types.Peer {
	cutoff := rt.clock.Now().Add(-olderThan)
	var stale []types.Peer
	for _, b := range rt.buckets {
		b.mu.RLock()
		for _, p := range b.peers {
			if p.Liveness != types.LivenessDead && p.LastSeen.Before(cutoff) {
				stale = append(stale, p)
			}
		}
		b.mu.RUnlock()
	}
	return stale
}

// RemoveDead 驱逐所有已判死节点，并从替换缓存补位
func (rt *RoutingTable) RemoveDead() []types.Peer {
	var removed []types.Peer
	for _, b := range rt.buckets {
		b.mu.Lock()
		for i := len(b.peers) - 1; i >= 0; i-- {
			if b.peers[i].Liveness == types.LivenessDead {
				removed = append(removed, b.removeAt(i))
				rt.size.Add(-1)
				if _, ok := b.promoteReplacement(); ok {
					rt.size.Add(1)
				}
			}
		}
		b.mu.Unlock()
	}
	return removed
}

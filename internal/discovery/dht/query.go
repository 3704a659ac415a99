package dht

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
//                              查找模式与结果
// ============================================================================

// LookupMode 查找模式
type LookupMode int

const (
	// LookupNode 查找最近节点
	LookupNode LookupMode = iota
	// LookupValue 查找值
	LookupValue
)

// String 返回模式名称
func (m LookupMode) String() string {
	if m == LookupValue {
		return "value"
	}
	return "node"
}

// Termination 查找结束原因
type Termination int

const (
	// TerminationConverged K 个节点已响应且没有更近的待查询节点
	TerminationConverged Termination = iota
	// TerminationNoImprovement 一整轮没有得到更近的节点
	TerminationNoImprovement
	// TerminationBudget 时间或轮数预算耗尽
	TerminationBudget
	// TerminationExhausted 没有可查询的候选节点
	TerminationExhausted
	// TerminationFound 值查找命中（快速搜索）
	TerminationFound
)

// String 返回原因名称
func (t Termination) String() string {
	switch t {
	case TerminationConverged:
		return "converged"
	case TerminationNoImprovement:
		return "no_improvement"
	case TerminationBudget:
		return "budget"
	case TerminationExhausted:
		return "exhausted"
	case TerminationFound:
		return "found"
	default:
		return "unknown"
	}
}

// LookupResult 查找结果
type LookupResult struct {
	// Target 目标
	Target types.NodeID

	// Mode 模式
	Mode LookupMode

	// Closest 按距离升序的响应节点（最多 K 个）
	//
	// 值模式下只包含没有返回该值的节点，调用方可据此回填缓存。
	Closest []types.Peer

	// Entry 值模式下的胜出条目
	Entry *ValueEntry

	// Rounds 使用的轮数
	Rounds int

	// Queried 查询过的节点数
	Queried int

	// Termination 结束原因
	Termination Termination
}

// ============================================================================
//                              查找状态
// ============================================================================

type candidateState int

const (
	candPending candidateState = iota
	candResponded
	candFailed
)

type candidate struct {
	addr     types.PeerAddr
	state    candidateState
	rtt      time.Duration
	hasValue bool
}

// lookupState 单次查找的临时状态
//
// 只由查找的主循环访问：每轮的并发查询把结果写入各自的槽位，
// 汇合之后才合并进状态，所以这里不需要锁。
type lookupState struct {
	id     string
	self   types.NodeID
	target types.NodeID
	mode   LookupMode
	k      int

	cands map[types.NodeID]*candidate
	// order 所有候选按到 target 的距离升序排列
	order []*candidate

	entry   *ValueEntry
	rounds  int
	queried int
}

func newLookupState(self, target types.NodeID, mode LookupMode, k int) *lookupState {
	return &lookupState{
		id:     uuid.NewString(),
		self:   self,
		target: target,
		mode:   mode,
		k:      k,
		cands:  make(map[types.NodeID]*candidate),
	}
}

// add 加入新候选，已知节点和本节点被忽略
func (s *lookupState) add(addr types.PeerAddr) bool {
	if addr.ID.IsEmpty() || addr.ID == s.self || addr.Addr == "" {
		return false
	}
	if _, ok := s.cands[addr.ID]; ok {
		return false
	}
	c := &candidate{addr: addr}
	s.cands[addr.ID] = c

	i := sort.Search(len(s.order), func(i int) bool {
		return Closer(s.target, addr.ID, s.order[i].addr.ID)
	})
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = c
	return true
}

// nextBatch 选出最多 n 个最近的待查询候选
func (s *lookupState) nextBatch(n int, skip func(types.NodeID) bool) []*candidate {
	var batch []*candidate
	for _, c := range s.order {
		if len(batch) >= n {
			break
		}
		if c.state != candPending || (skip != nil && skip(c.addr.ID)) {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// finalBatch 最近 K 个未失败候选中尚未查询的部分
func (s *lookupState) finalBatch(skip func(types.NodeID) bool) []*candidate {
	var batch []*candidate
	seen := 0
	for _, c := range s.order {
		if seen >= s.k {
			break
		}
		if c.state == candFailed {
			continue
		}
		seen++
		if c.state == candPending && (skip == nil || !skip(c.addr.ID)) {
			batch = append(batch, c)
		}
	}
	return batch
}

// bestResponded 最近的已响应节点
func (s *lookupState) bestResponded() (types.NodeID, bool) {
	for _, c := range s.order {
		if c.state == candResponded {
			return c.addr.ID, true
		}
	}
	return types.NodeID{}, false
}

// converged K 个节点已响应，且排在第 K 个响应者之前没有待查询候选
func (s *lookupState) converged(skip func(types.NodeID) bool) bool {
	responded := 0
	for _, c := range s.order {
		switch c.state {
		case candResponded:
			responded++
			if responded >= s.k {
				return true
			}
		case candPending:
			if skip == nil || !skip(c.addr.ID) {
				return false
			}
		}
	}
	return false
}

// closest 最近的 K 个已响应节点；withoutValue 时只取没有返回值的
func (s *lookupState) closest(withoutValue bool, now time.Time) []types.Peer {
	var out []types.Peer
	for _, c := range s.order {
		if len(out) >= s.k {
			break
		}
		if c.state != candResponded || (withoutValue && c.hasValue) {
			continue
		}
		p := types.PeerFromAddr(c.addr)
		p.LastSeen = now
		p.Liveness = types.LivenessAlive
		p.RTT = c.rtt
		out = append(out, p)
	}
	return out
}

// ============================================================================
//                              查找引擎
// ============================================================================

// lookupEngine 迭代查找
//
// 每轮最多并发 α 个查询；第 N 轮的结果合并完成后才选择第 N+1 轮的节点。
type lookupEngine struct {
	self       types.NodeID
	rt         *RoutingTable
	dispatcher *Dispatcher
	validator  *Validator
	bad        *badPeers
	metrics    *metrics
	clock      clock.Clock
	seeds      interfaces.SeedProvider

	k             int
	alpha         int
	maxRounds     int
	lookupTimeout time.Duration
	fullSearch    bool

	// 同时进行的查找数量上限
	slots *semaphore.Weighted

	// admit 桶满时在后台尝试插入已响应的节点，可以为空
	admit func(types.Peer)
}

func newLookupEngine(self types.NodeID, rt *RoutingTable, d *Dispatcher, v *Validator, bad *badPeers, m *metrics, cfg *Config) *lookupEngine {
	return &lookupEngine{
		self:          self,
		rt:            rt,
		dispatcher:    d,
		validator:     v,
		bad:           bad,
		metrics:       m,
		clock:         cfg.Clock,
		seeds:         cfg.SeedProvider,
		k:             cfg.BucketSize,
		alpha:         cfg.Alpha,
		maxRounds:     cfg.MaxLookupRounds,
		lookupTimeout: cfg.LookupTimeout,
		fullSearch:    cfg.FullValueSearch,
		slots:         semaphore.NewWeighted(int64(cfg.MaxConcurrentLookups)),
	}
}

// roundResult 单个查询的结果槽位
type roundResult struct {
	c   *candidate
	res QueryResult
}

// run 执行一次查找
func (e *lookupEngine) run(ctx context.Context, target types.NodeID, mode LookupMode) (*LookupResult, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.slots.Release(1)

	st := newLookupState(e.self, target, mode, e.k)
	if err := e.seed(ctx, st); err != nil {
		e.metrics.lookups.WithLabelValues(mode.String(), "no_peers").Inc()
		return nil, err
	}
	e.rt.MarkBucketQueried(target)

	lctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	start := e.clock.Now()
	term := e.iterate(lctx, st)

	result := &LookupResult{
		Target:      target,
		Mode:        mode,
		Closest:     st.closest(mode == LookupValue, e.clock.Now()),
		Entry:       st.entry,
		Rounds:      st.rounds,
		Queried:     st.queried,
		Termination: term,
	}

	e.metrics.lookupRounds.Observe(float64(st.rounds))
	logger.Debug("查找完成",
		"lookup", st.id,
		"mode", mode,
		"target", target.ShortString(),
		"rounds", st.rounds,
		"queried", st.queried,
		"termination", term,
		"found", st.entry != nil,
		"duration", e.clock.Since(start))

	if err := ctx.Err(); err != nil {
		e.metrics.lookups.WithLabelValues(mode.String(), "cancelled").Inc()
		return result, err
	}
	if term == TerminationBudget && len(result.Closest) == 0 && st.entry == nil {
		e.metrics.lookups.WithLabelValues(mode.String(), "budget").Inc()
		return result, ErrLookupBudgetExhausted
	}
	e.metrics.lookups.WithLabelValues(mode.String(), "ok").Inc()
	return result, nil
}

// seed 用路由表中最近的节点初始化候选集；路由表为空时使用种子节点
//
// 候选集取最近的 K 个，每轮只查询其中 α 个，其余在前几轮有节点失败时补位。
func (e *lookupEngine) seed(ctx context.Context, st *lookupState) error {
	for _, p := range e.rt.Closest(st.target, e.k) {
		st.add(p.AddrInfo())
	}
	if len(st.order) > 0 {
		return nil
	}

	if e.seeds != nil {
		seeds, err := e.seeds.SeedPeers(ctx)
		if err != nil {
			logger.Warn("获取种子节点失败", "error", err)
		}
		for _, s := range seeds {
			st.add(s)
		}
	}
	if len(st.order) == 0 {
		return ErrNoPeersAvailable
	}
	return nil
}

// iterate 主循环
func (e *lookupEngine) iterate(ctx context.Context, st *lookupState) Termination {
	skip := e.bad.isBad
	finalRound := false

	for {
		if ctx.Err() != nil || st.rounds >= e.maxRounds {
			return TerminationBudget
		}

		var batch []*candidate
		if finalRound {
			batch = st.finalBatch(skip)
		} else {
			batch = st.nextBatch(e.alpha, skip)
			if len(batch) == 0 && st.rounds == 0 {
				// 所有初始节点都被评为坏节点时仍然尝试它们
				batch = st.nextBatch(e.alpha, nil)
				skip = nil
			}
		}
		if len(batch) == 0 {
			if finalRound {
				return TerminationNoImprovement
			}
			return TerminationExhausted
		}

		before, hadBest := st.bestResponded()
		e.merge(st, e.queryRound(ctx, st, batch))
		st.rounds++

		if finalRound {
			return TerminationNoImprovement
		}
		if st.mode == LookupValue && st.entry != nil && !e.fullSearch {
			return TerminationFound
		}
		if st.converged(skip) {
			return TerminationConverged
		}

		after, hasBest := st.bestResponded()
		improved := hasBest && (!hadBest || Closer(st.target, after, before))
		if !improved {
			// 没有改进：查询最近 K 个中剩下的节点后结束
			finalRound = true
		}
	}
}

// queryRound 并发查询一批节点并等待全部完成
func (e *lookupEngine) queryRound(ctx context.Context, st *lookupState, batch []*candidate) []roundResult {
	results := make([]roundResult, len(batch))
	sem := semaphore.NewWeighted(int64(e.alpha))

	var g errgroup.Group
	for i, c := range batch {
		results[i].c = c
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i].res = QueryResult{Status: QueryTransportError, Err: err}
				return nil
			}
			defer sem.Release(1)
			results[i].res = e.queryOne(ctx, st, c.addr)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// queryOne 查询单个节点并更新路由表
//
// 不会因为路由表的驱逐检查而阻塞。
func (e *lookupEngine) queryOne(ctx context.Context, st *lookupState, peer types.PeerAddr) QueryResult {
	var res QueryResult
	if st.mode == LookupValue {
		res = e.dispatcher.FindValue(ctx, peer, st.target)
	} else {
		res = e.dispatcher.FindNode(ctx, peer, st.target)
	}

	if res.OK() {
		e.bad.success(peer.ID)
		e.noteResponder(respondedPeer(peer, res))
		return res
	}

	// 调用方取消不是对端的错
	if ctx.Err() == nil {
		e.rt.MarkDead(peer.ID)
		score := e.bad.failure(peer.ID)
		logger.Debug("查询失败", "lookup", st.id, "peer", peer.ID.ShortString(), "status", res.Status, "score", score, "error", res.Err)
	}
	return res
}

// noteResponder 把响应的节点记入路由表，不在查找路径上等待活性检查
//
// 已知节点直接标记存活；桶满时交给 admit 在后台检查队尾。
func (e *lookupEngine) noteResponder(peer types.Peer) {
	if e.rt.MarkAlive(peer.ID, peer.RTT) {
		e.rt.UpdateRecord(peer.AddrInfo())
		return
	}
	if e.rt.TryInsert(peer) == InsertDropped && e.admit != nil {
		e.admit(peer)
	}
}

// merge 把一轮的结果合并进查找状态
func (e *lookupEngine) merge(st *lookupState, results []roundResult) {
	now := e.clock.Now()
	for _, r := range results {
		st.queried++
		if !r.res.OK() {
			r.c.state = candFailed
			continue
		}
		r.c.state = candResponded
		r.c.rtt = r.res.RTT
		resp := r.res.Response

		if st.mode == LookupValue && resp.Entry != nil {
			if err := e.acceptEntry(st, resp.Entry, now); err != nil {
				logger.Debug("丢弃无效值条目", "lookup", st.id, "peer", r.c.addr.ID.ShortString(), "error", err)
				e.bad.failure(r.c.addr.ID)
			} else {
				r.c.hasValue = true
			}
		}

		for _, p := range resp.Peers {
			if st.add(p) {
				// 被提及的节点尚未验证，不触发驱逐探测
				e.rt.TryInsert(types.PeerFromAddr(p))
			}
		}
	}
}

// acceptEntry 验证返回的条目并与已有候选比较
func (e *lookupEngine) acceptEntry(st *lookupState, entry *ValueEntry, now time.Time) error {
	if entry.Key != st.target {
		return errors.New("entry key does not match lookup target")
	}
	if err := e.validator.Validate(entry, now); err != nil {
		return err
	}
	st.entry = SelectBest(st.entry, entry)
	return nil
}

package dht

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// DHT Kademlia 风格的分布式哈希表
//
// 路由表和值存储是仅有的共享可变状态，各自细粒度加锁；
// 前台查找与后台维护并发运行，互不串行化。
type DHT struct {
	config *Config
	clock  clock.Clock

	priv crypto.PrivateKey
	self types.PeerAddr

	transport    interfaces.Transport
	routingTable *RoutingTable
	values       *ValueStore
	validator    *Validator
	publisher    *Publisher
	dispatcher   *Dispatcher
	lookups      *lookupEngine
	handler      *Handler
	bad          *badPeers
	metrics      *metrics

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup

	started atomic.Bool
	closed  atomic.Bool
	stopMu  sync.Mutex

	// spawnMu 保证 ctx 取消之后不再有 wg.Add
	spawnMu sync.Mutex
}

// New 创建 DHT
//
// 参数:
//   - transport: 出站请求传输
//   - priv: 本节点 Ed25519 私钥，决定节点 ID 并用于签名发布的条目
func New(transport interfaces.Transport, priv crypto.PrivateKey, opts ...ConfigOption) (*DHT, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if priv == nil {
		return nil, ErrNilKey
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewDHTError("new", ErrInvalidConfig, err.Error())
	}

	selfID, err := crypto.NodeIDFromPrivateKey(priv)
	if err != nil {
		return nil, NewDHTError("new", ErrNilKey, err.Error())
	}
	// 版本取创建时间，重启后的记录总是取代旧记录
	self, err := SignPeerRecord(priv, cfg.ListenAddr, uint64(cfg.Clock.Now().UnixNano()))
	if err != nil {
		return nil, NewDHTError("new", err, "sign peer record")
	}
	publisher, err := NewPublisher(priv, cfg.Clock)
	if err != nil {
		return nil, NewDHTError("new", err, "create publisher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DHT{
		config:    cfg,
		clock:     cfg.Clock,
		priv:      priv,
		self:      self,
		transport: transport,
		publisher: publisher,
		bad:       newBadPeers(cfg.BadPeerThreshold, cfg.BadPeerTTL),
		metrics:   newMetrics(),
		ctx:       ctx,
		ctxCancel: cancel,
	}

	d.validator = NewValidator(cfg)
	d.values = NewValueStore(d.validator, cfg.Clock, cfg.ValuePersister)
	d.dispatcher = NewDispatcher(transport, d.self, cfg, d.metrics)
	d.routingTable = NewRoutingTable(selfID, cfg, d.dispatcher.Pinger())
	d.lookups = newLookupEngine(selfID, d.routingTable, d.dispatcher, d.validator, d.bad, d.metrics, cfg)
	d.lookups.admit = d.admitAsync
	d.handler = NewHandler(d)

	d.metrics.addGauges(d.routingTable, d.values, d.publisher)
	if err := d.metrics.register(cfg.Registerer); err != nil {
		cancel()
		return nil, NewDHTError("new", err, "register metrics")
	}

	if n, err := d.values.Load(); err != nil {
		logger.Warn("加载持久化值条目失败", "error", err)
	} else if n > 0 {
		logger.Info("已加载持久化值条目", "count", n)
	}

	logger.Debug("DHT 已创建", "self", selfID.ShortString(), "addr", cfg.ListenAddr,
		"k", cfg.BucketSize, "alpha", cfg.Alpha)
	return d, nil
}

// Start 启动 DHT
//
// 恢复路由表快照并启动后台维护。
func (d *DHT) Start(_ context.Context) error {
	if d.closed.Load() {
		return ErrDHTClosed
	}
	if !d.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	logger.Info("正在启动 DHT", "self", d.self.ID.ShortString())

	if s := d.config.RoutingSnapshots; s != nil {
		n, err := s.Restore(d.routingTable, d.config.SnapshotMaxAge)
		if err != nil {
			logger.Warn("恢复路由表快照失败", "error", err)
		} else if n > 0 {
			logger.Info("已恢复路由表快照", "peers", n)
		}
	}

	if d.config.EnableMaintenance {
		d.startMaintenance()
	}

	logger.Info("DHT 启动成功")
	return nil
}

// Stop 停止 DHT
//
// 停止后台循环，保存路由表快照。可以重复调用。
func (d *DHT) Stop(_ context.Context) error {
	d.stopMu.Lock()
	defer d.stopMu.Unlock()

	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	logger.Info("正在停止 DHT")
	d.spawnMu.Lock()
	d.ctxCancel()
	d.spawnMu.Unlock()
	d.wg.Wait()

	var errs error
	if s := d.config.RoutingSnapshots; s != nil {
		if n, err := s.Save(d.routingTable); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("save routing snapshot: %w", err))
		} else {
			logger.Debug("已保存路由表快照", "peers", n)
		}
	}
	d.metrics.unregister(d.config.Registerer)

	logger.Info("DHT 已停止")
	return errs
}

// ============================================================================
//                              查询接口
// ============================================================================

// Self 返回本节点身份与地址
func (d *DHT) Self() types.PeerAddr {
	return d.self
}

// RoutingTable 返回路由表
func (d *DHT) RoutingTable() *RoutingTable {
	return d.routingTable
}

// ValueStore 返回本地值存储
func (d *DHT) ValueStore() *ValueStore {
	return d.values
}

// Publisher 返回本地发布记录管理器
func (d *DHT) Publisher() *Publisher {
	return d.publisher
}

// HandleQuery 处理入站请求（供传输层调用）
func (d *DHT) HandleQuery(ctx context.Context, from string, payload []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrDHTClosed
	}
	return d.handler.HandleQuery(ctx, from, payload)
}

var _ interfaces.QueryHandler = (*DHT)(nil)

// FindNode 查找距离 target 最近的节点
//
// 返回最多 K 个已响应的节点，按到 target 的距离升序排列。
// 路由表为空且没有种子节点时返回 ErrNoPeersAvailable。
func (d *DHT) FindNode(ctx context.Context, target types.NodeID) ([]types.Peer, error) {
	res, err := d.Lookup(ctx, target, LookupNode)
	if err != nil {
		return nil, err
	}
	return res.Closest, nil
}

// Lookup 执行一次迭代查找并返回完整结果
func (d *DHT) Lookup(ctx context.Context, target types.NodeID, mode LookupMode) (*LookupResult, error) {
	if d.closed.Load() {
		return nil, ErrDHTClosed
	}
	return d.lookups.run(ctx, target, mode)
}

// FindValue 查找键的当前条目
//
// 先查本地存储（快速搜索模式下命中即返回），再做网络查找。
// 找到的条目按新者胜写入本地存储，并回填到最近的一个没有该值的节点。
// 键不存在或已过期时返回 ErrNotFound。
func (d *DHT) FindValue(ctx context.Context, key types.NodeID) (*ValueEntry, error) {
	if d.closed.Load() {
		return nil, ErrDHTClosed
	}

	local, _ := d.values.Get(key)
	if local != nil && !d.config.FullValueSearch {
		return local, nil
	}

	res, err := d.lookups.run(ctx, key, LookupValue)
	if err != nil {
		if local != nil && !errors.Is(err, context.Canceled) {
			return local, nil
		}
		return nil, err
	}

	best := SelectBest(local, res.Entry)
	if best == nil {
		return nil, ErrNotFound
	}

	if res.Entry != nil {
		if _, err := d.values.Put(res.Entry); err != nil {
			logger.Debug("缓存查找结果失败", "key", key.ShortString(), "error", err)
		}
		if len(res.Closest) > 0 {
			d.cacheAt(res.Closest[0].AddrInfo(), best)
		}
	}
	return best.Clone(), nil
}

// cacheAt 异步把条目写到一个没有该值的节点
func (d *DHT) cacheAt(peer types.PeerAddr, entry *ValueEntry) {
	d.goTracked(func(ctx context.Context) {
		if res := d.dispatcher.Store(ctx, peer, entry); !res.OK() {
			logger.Debug("回填缓存失败", "peer", peer.ID.ShortString(), "error", res.Err)
		}
	})
}

// admitAsync 在后台把已响应的节点放入满桶
//
// 队尾活性检查可能耗时数秒，不能阻塞查找轮次；检查使用 DHT 自身的生命周期
// 而不是调用方的 ctx，查找结束或被取消不会中断它。
func (d *DHT) admitAsync(peer types.Peer) {
	d.goTracked(func(ctx context.Context) {
		res := d.routingTable.InsertOrRefresh(ctx, peer)
		logger.Debug("后台入表", "peer", peer.ID.ShortString(), "result", res)
	})
}

// goTracked 启动受 Stop 等待的后台任务
//
// 已关闭时不启动并返回 false。
func (d *DHT) goTracked(fn func(ctx context.Context)) bool {
	d.spawnMu.Lock()
	if d.closed.Load() || d.ctx.Err() != nil {
		d.spawnMu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.spawnMu.Unlock()

	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
	return true
}

// ============================================================================
//                              存储接口
// ============================================================================

// StoreResult 存储结果
type StoreResult struct {
	// Entry 写入的条目
	Entry *ValueEntry

	// Replicas 确认存储的远端节点数
	Replicas int
}

// Store 签名并发布值
//
// ttl 为 0 时使用默认 TTL。签名或 TTL 错误在任何修改之前返回。
// 值先写入本地存储，再复制到距离键最近的 K 个节点；
// 网络中没有其他节点时只保存在本地。
func (d *DHT) Store(ctx context.Context, name string, value []byte, ttl time.Duration) (*StoreResult, error) {
	if d.closed.Load() {
		return nil, ErrDHTClosed
	}
	if ttl == 0 {
		ttl = d.config.ValueTTL
	}
	if ttl < 0 || ttl > d.config.MaxTTL {
		return nil, NewDHTError("store", ErrExpiredEntry, fmt.Sprintf("ttl %s out of range", ttl))
	}
	if len(value) > d.config.MaxValueSize {
		return nil, NewDHTError("store", ErrValueTooLarge, fmt.Sprintf("%d bytes", len(value)))
	}

	key := d.publisher.KeyFor(name, 0)
	var minSeq uint64
	if cur, err := d.values.Get(key); err == nil {
		minSeq = cur.Seq
	}

	entry, err := d.publisher.Publish(name, 0, value, ttl, minSeq)
	if err != nil {
		return nil, NewDHTError("store", err, "sign entry")
	}
	return d.StoreEntry(ctx, entry)
}

// StoreEntry 存储已签名的条目
//
// 条目无效时返回完整性错误且不修改本地存储。本地已有更新版本时
// 复制的是本地的当前版本。
func (d *DHT) StoreEntry(ctx context.Context, entry *ValueEntry) (*StoreResult, error) {
	if d.closed.Load() {
		return nil, ErrDHTClosed
	}

	res, err := d.values.Put(entry)
	if err != nil {
		d.metrics.stores.WithLabelValues("rejected").Inc()
		return nil, NewDHTError("store", err, entry.Key.ShortString())
	}
	if res.Stored {
		d.metrics.stores.WithLabelValues("stored").Inc()
	} else {
		d.metrics.stores.WithLabelValues("stale").Inc()
	}

	replicas, err := d.replicate(ctx, res.Current)
	if err != nil && !errors.Is(err, ErrNoPeersAvailable) {
		return &StoreResult{Entry: res.Current, Replicas: replicas}, err
	}
	return &StoreResult{Entry: res.Current, Replicas: replicas}, nil
}

// replicate 把条目写到距离键最近的 K 个节点
func (d *DHT) replicate(ctx context.Context, entry *ValueEntry) (int, error) {
	res, err := d.lookups.run(ctx, entry.Key, LookupNode)
	if err != nil {
		return 0, err
	}

	var stored atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.config.Alpha)
	for _, p := range res.Closest {
		g.Go(func() error {
			qr := d.dispatcher.Store(ctx, p.AddrInfo(), entry)
			switch {
			case !qr.OK():
				logger.Debug("复制条目失败", "peer", p.ID.ShortString(), "error", qr.Err)
			case qr.Response.Error != "":
				logger.Debug("对端拒绝条目", "peer", p.ID.ShortString(), "error", qr.Response.Error)
			default:
				stored.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(stored.Load())
	logger.Debug("条目已复制", "key", entry.Key.ShortString(), "seq", entry.Seq, "replicas", n, "candidates", len(res.Closest))
	return n, ctx.Err()
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 用种子节点填充路由表
//
// 空列表不做任何事。种子被并发探测，响应的种子以存活状态加入路由表，
// 然后执行一次自身查找来填充附近的桶。所有种子都无响应时返回 ErrNoPeersAvailable。
// 种子的 ID 可以为空，此时使用 PONG 中的发送者身份。
func (d *DHT) Bootstrap(ctx context.Context, seeds []types.PeerAddr) error {
	if d.closed.Load() {
		return ErrDHTClosed
	}
	if len(seeds) == 0 {
		return nil
	}

	var alive atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.config.Alpha)
	for _, seed := range seeds {
		if seed.ID == d.self.ID || seed.Addr == "" {
			continue
		}
		g.Go(func() error {
			res := d.dispatcher.Ping(ctx, seed)
			if !res.OK() {
				logger.Debug("种子节点无响应", "seed", seed.Addr, "error", res.Err)
				return nil
			}
			peer := respondedPeer(seed, res)
			if peer.ID == d.self.ID {
				return nil
			}
			d.routingTable.InsertOrRefresh(ctx, peer)
			alive.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if alive.Load() == 0 {
		return NewDHTError("bootstrap", ErrNoPeersAvailable, "no seed responded")
	}

	if _, err := d.lookups.run(ctx, d.self.ID, LookupNode); err != nil {
		logger.Debug("自身查找失败", "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	logger.Info("引导完成", "seeds", len(seeds), "alive", alive.Load(), "peers", d.routingTable.Size())
	return nil
}

// respondedPeer 用响应中的签名记录构造存活节点
//
// 记录地址与实际联系的地址不同（例如对端公布了通配地址）时，
// 只保留 ID 和联系地址，这样的条目不会转发给其他节点。
func respondedPeer(contacted types.PeerAddr, res QueryResult) types.Peer {
	rec := res.Response.Sender
	peer := types.PeerFromAddr(rec)
	if rec.Addr != contacted.Addr {
		peer = types.Peer{ID: rec.ID, Addr: contacted.Addr}
	}
	peer.Liveness = types.LivenessAlive
	peer.RTT = res.RTT
	return peer
}

// ============================================================================
//                              统计
// ============================================================================

// Stats DHT 状态快照
type Stats struct {
	Self         types.PeerAddr
	Peers        int
	Values       int
	LocalRecords int
	Buckets      [NumBuckets]int
}

// Stats 返回状态快照
func (d *DHT) Stats() Stats {
	return Stats{
		Self:         d.self,
		Peers:        d.routingTable.Size(),
		Values:       d.values.Len(),
		LocalRecords: d.publisher.Len(),
		Buckets:      d.routingTable.BucketSizes(),
	}
}

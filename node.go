package dht

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-dht/internal/debug/introspect"
	dhtcore "github.com/dep2p/go-dht/internal/discovery/dht"
	"github.com/dep2p/go-dht/pkg/lib/log"
	"github.com/dep2p/go-dht/pkg/types"
)

var logger = log.Logger("dht")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota

	// StateStarting 启动中（Fx App 启动中）
	StateStarting

	// StateRunning 运行中
	StateRunning

	// StateStopped 已关闭
	StateStopped
)

// String 返回状态的字符串表示
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// startTimeout Fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout Fx App 停止超时
	stopTimeout = 30 * time.Second
)

// 引擎类型别名
type (
	// ValueEntry 签名的值条目
	ValueEntry = dhtcore.ValueEntry

	// StoreResult 存储结果
	StoreResult = dhtcore.StoreResult

	// Stats DHT 状态快照
	Stats = dhtcore.Stats
)

// Node DHT 节点
//
// Node 是一个门面，聚合了 Fx 组装出的 DHT 引擎和诊断服务。
//
// 使用示例：
//
//	node, err := dht.New(ctx, dht.WithListenAddr("127.0.0.1:4001"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	peers, err := node.FindNode(ctx, target)
type Node struct {
	options *options
	app     *fx.App

	// 由 Fx 注入
	dht        *dhtcore.DHT
	introspect *introspect.Server

	mu    sync.Mutex
	state NodeState
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{options: o}

	var err error
	node.app, err = buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return node, nil
}

// Start 快捷启动函数，等价于 New() + Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
//
// 依次打开存储、开始监听、启动 DHT，然后在后台用配置的种子节点引导。
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateStopped:
		return ErrNodeClosed
	case StateStarting, StateRunning:
		return ErrAlreadyStarted
	}

	n.state = StateStarting
	logger.Info("正在启动节点", "id", n.dht.Self().ID.ShortString(), "addr", n.dht.Self().Addr)

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		n.state = StateStopped
		logger.Error("启动节点失败", "error", err)
		return fmt.Errorf("start fx app: %w", err)
	}

	n.state = StateRunning
	logger.Info("节点启动成功")
	return nil
}

// Close 关闭节点并释放所有资源
//
// 关闭后不能重新启动。可以重复调用。
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state == StateStopped {
		return nil
	}

	wasRunning := n.state == StateRunning
	n.state = StateStopped
	if !wasRunning {
		return nil
	}

	logger.Info("正在关闭节点")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := n.app.Stop(ctx); err != nil {
		logger.Warn("停止 Fx 应用失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已关闭")
	return nil
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) checkRunning() error {
	switch n.State() {
	case StateRunning:
		return nil
	case StateStopped:
		return ErrNodeClosed
	default:
		return ErrNotStarted
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.dht.Self().ID
}

// Addr 返回节点对外公布的地址，格式 "<NodeID>@<host:port>"
func (n *Node) Addr() types.PeerAddr {
	return n.dht.Self()
}

// DiagnosticsAddr 返回诊断服务的实际监听地址，未启用时为空
func (n *Node) DiagnosticsAddr() string {
	if n.introspect == nil {
		return ""
	}
	return n.introspect.Addr()
}

// DHT 返回底层 DHT 引擎
func (n *Node) DHT() *dhtcore.DHT {
	return n.dht
}

// Stats 返回状态快照
func (n *Node) Stats() Stats {
	return n.dht.Stats()
}

// ════════════════════════════════════════════════════════════════════════════
//                              DHT 操作
// ════════════════════════════════════════════════════════════════════════════

// FindNode 查找距离 target 最近的节点
func (n *Node) FindNode(ctx context.Context, target types.NodeID) ([]types.Peer, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.FindNode(ctx, target)
}

// FindValue 查找键的当前条目
func (n *Node) FindValue(ctx context.Context, key types.NodeID) (*ValueEntry, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.FindValue(ctx, key)
}

// Store 以本节点身份签名并发布值
//
// ttl 为 0 时使用默认 TTL。返回的条目 Key 可用于 FindValue。
func (n *Node) Store(ctx context.Context, name string, value []byte, ttl time.Duration) (*StoreResult, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.dht.Store(ctx, name, value, ttl)
}

// KeyFor 返回本节点以 name 发布的值的键
func (n *Node) KeyFor(name string) types.NodeID {
	return n.dht.Publisher().KeyFor(name, 0)
}

// Bootstrap 用给定的种子节点引导，种子格式 "<NodeID>@<host:port>"
//
// 配置中的种子在 Start 时已自动引导，这里用于运行中追加。
func (n *Node) Bootstrap(ctx context.Context, seeds ...string) error {
	if err := n.checkRunning(); err != nil {
		return err
	}

	addrs := make([]types.PeerAddr, 0, len(seeds))
	for _, s := range seeds {
		pa, err := types.ParsePeerAddr(s)
		if err != nil {
			return err
		}
		addrs = append(addrs, pa)
	}
	return n.dht.Bootstrap(ctx, addrs)
}

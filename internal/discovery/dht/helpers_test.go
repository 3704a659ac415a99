package dht

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-dht/internal/core/transport/memnet"
	"github.com/dep2p/go-dht/pkg/lib/crypto"
	"github.com/dep2p/go-dht/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func newTestKey(t testing.TB) crypto.PrivateKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return priv
}

func randomID(t testing.TB) types.NodeID {
	t.Helper()
	priv := newTestKey(t)
	id, err := crypto.NodeIDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

// signedPeer 生成新身份并返回其签名节点记录
func signedPeer(t testing.TB, addr string) types.PeerAddr {
	t.Helper()
	rec, err := SignPeerRecord(newTestKey(t), addr, 1)
	require.NoError(t, err)
	return rec
}

// testOptions 测试默认选项：关闭后台维护和入站限流，缩短超时
func testOptions(addr string) []ConfigOption {
	return []ConfigOption{
		WithListenAddr(addr),
		WithMaintenance(false),
		WithQueryTimeout(300 * time.Millisecond),
		WithRetryBackoff(time.Millisecond),
		WithLookupTimeout(5 * time.Second),
		func(c *Config) { c.InboundRate = 0 },
	}
}

// newMemNode 在模拟网络上创建一个节点
func newMemNode(t testing.TB, net *memnet.Network, addr string, opts ...ConfigOption) *DHT {
	t.Helper()
	ep := net.Endpoint(addr)
	d, err := New(ep, newTestKey(t), append(testOptions(addr), opts...)...)
	require.NoError(t, err)
	net.Register(addr, d)
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

// newMemNetwork 创建 n 个节点，后续节点都通过第一个节点引导
func newMemNetwork(t testing.TB, n int, opts ...ConfigOption) (*memnet.Network, []*DHT) {
	t.Helper()
	net := memnet.New()
	nodes := make([]*DHT, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, newMemNode(t, net, fmt.Sprintf("node-%d", i), opts...))
	}

	ctx := context.Background()
	seed := []types.PeerAddr{nodes[0].Self()}
	for _, d := range nodes[1:] {
		require.NoError(t, d.Bootstrap(ctx, seed))
	}
	return net, nodes
}

// peerIDs 提取节点 ID
func peerIDs(peers []types.Peer) []types.NodeID {
	ids := make([]types.NodeID, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}

// sortedIDs 返回按到 target 距离升序排列的 ID
func sortedIDs(ids []types.NodeID, target types.NodeID) []types.NodeID {
	peers := make([]types.Peer, len(ids))
	for i, id := range ids {
		peers[i] = types.Peer{ID: id}
	}
	sortByDistance(peers, target)
	return peerIDs(peers)
}

// isSortedByDistance 检查列表按距离严格升序
func isSortedByDistance(peers []types.Peer, target types.NodeID) bool {
	for i := 1; i < len(peers); i++ {
		if !Closer(target, peers[i-1].ID, peers[i].ID) {
			return false
		}
	}
	return true
}

// stubPinger 可控的探测器
type stubPinger struct {
	err   error
	calls int
}

func (p *stubPinger) Ping(context.Context, types.PeerAddr) error {
	p.calls++
	return p.err
}

package interfaces

import (
	"context"

	"github.com/dep2p/go-dht/pkg/types"
)

// SeedProvider 种子节点提供者
//
// 仅在路由表为空时用于填充初始候选。
type SeedProvider interface {
	SeedPeers(ctx context.Context) ([]types.PeerAddr, error)
}

// StaticSeeds 固定种子列表
type StaticSeeds []types.PeerAddr

// SeedPeers 实现 SeedProvider
func (s StaticSeeds) SeedPeers(context.Context) ([]types.PeerAddr, error) {
	out := make([]types.PeerAddr, len(s))
	copy(out, s)
	return out, nil
}

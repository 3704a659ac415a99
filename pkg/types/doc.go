// Package types 定义 DHT 引擎的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go  - NodeID（256 位标识，Base58 编码）与值键派生
//   - peer.go - PeerAddr, Peer, Liveness
//
// # 标识空间
//
// 节点和值共享同一个 256 位标识空间：节点 ID 由公钥哈希得到，
// 值的键由发布者 ID、名称和索引派生。两者之间的距离用 XOR 度量。
//
// # 使用示例
//
//	import "github.com/dep2p/go-dht/pkg/types"
//
//	// 解析种子地址
//	seed, err := types.ParsePeerAddr("8Vf3...@127.0.0.1:4001")
//
//	// 派生值键
//	key := types.DeriveKey(publisher, "greeting", 0)
package types

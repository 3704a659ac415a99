// Package dht 提供 Kademlia 风格分布式哈希表节点
//
// Node 是用户与 DHT 网络交互的主入口。它通过 Fx 组装身份、存储、
// 传输、DHT 引擎和可选的诊断服务，对外提供节点查找、值查找、
// 签名存储和引导四个操作。
//
// # 快速开始
//
//	node, err := dht.Start(ctx,
//	    dht.WithListenAddr("0.0.0.0:4001"),
//	    dht.WithBootstrapPeers("<NodeID>@seed.example.com:4001"),
//	    dht.WithDataDir("./data"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	res, err := node.Store(ctx, "profile", []byte("hello"), time.Hour)
//	entry, err := node.FindValue(ctx, res.Entry.Key)
//
// # 值模型
//
// 每个值条目由发布者的 Ed25519 私钥签名，键由发布者公钥和名称派生。
// 同一键的多个版本按序列号、创建时间、签名字节依次比较，较大者胜出。
// 发布者在条目过期前自动以 seq+1 重新签名并复制。
//
// # 架构
//
//   - API Layer: Node（本包）
//   - Discovery Layer: internal/discovery/dht（路由表、查找、值存储、维护）
//   - Core Layer: identity, storage (BadgerDB), transport (TCP)
//   - Debug Layer: introspect（诊断 HTTP 与 Prometheus 指标）
package dht

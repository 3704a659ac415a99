// Package dht 实现 Kademlia 风格的分布式哈希表引擎
//
// # 模块概述
//
// dht 以 256 位节点 ID 与 XOR 距离组织网络：每个节点维护一张按共同前缀
// 长度划分的路由表，通过并行迭代查找定位距离目标最近的节点，并在这些
// 节点上保存带签名、带 TTL 的键值条目。
//
// # 核心组件
//
// 1. 路由表（routing.go）
//   - 256 个 K-桶，每桶最多 K 个节点，按最近验证时间排序
//   - 桶满时探测最久未见的节点，探测失败才驱逐（偏好长期在线的节点）
//   - 替换缓存：被拒绝的新节点在有空位时补位
//   - 连续失败达到阈值判定为 Dead
//
// 2. 值存储（values.go、validator.go、entry.go）
//   - 条目键 = H(发布者 ID || 名称 || 索引)，签名覆盖全部字段
//   - 冲突解决：seq 大者胜，其次创建时间新者胜，再次签名字节大者胜
//   - 过期条目在清理之前对读取者不可见
//   - 可选 badger 持久化（values_persistent.go）
//
// 3. 查找引擎（query.go）
//   - 每轮并发查询 α 个未查询的最近候选
//   - 终止条件：最近 K 个都已响应、一轮无改进、预算耗尽
//   - 值查找命中时提前结束（FullValueSearch 关闭时）
//
// 4. 查询分发（dispatcher.go、protocol.go）
//   - 单次查询固定超时，超时或网络错误重试一次
//   - 结果统一为 ok / timeout / transport_error
//
// 5. 后台维护（maintenance.go）
//   - 刷新长时间未查询的桶
//   - 探测长时间未见的节点并驱逐 Dead 节点
//   - 以 seq+1 重新发布即将过期的本地条目
//   - 清理过期条目
//
// # 使用示例
//
//	d, err := dht.New(transport, priv,
//	    dht.WithListenAddr("127.0.0.1:4001"),
//	)
//	if err != nil {
//	    return err
//	}
//	_ = d.Start(ctx)
//	defer d.Stop(ctx)
//
//	_ = d.Bootstrap(ctx, seeds)
//	peers, err := d.FindNode(ctx, target)
//	res, err := d.Store(ctx, "profile", []byte("hello"), time.Hour)
//	entry, err := d.FindValue(ctx, res.Entry.Key)
//
// # 依赖注入
//
// Module() 提供 fx 模块，需要注入 interfaces.Transport 与 crypto.PrivateKey。
package dht

import "github.com/dep2p/go-dht/pkg/lib/log"

var logger = log.Logger("discovery/dht")

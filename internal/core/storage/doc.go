// Package storage 提供 DHT 节点的持久化存储服务
//
// Storage 模块基于 BadgerDB 实现，为 DHT 值存储和路由表快照提供键值存储后端。
//
// # 架构
//
//	┌──────────────────────────────────────────────┐
//	│        使用方：ValueStore | RoutingTable      │
//	└──────────────────────────────────────────────┘
//	                      │
//	                      ▼
//	┌──────────────────────────────────────────────┐
//	│  kv.Store        带前缀隔离的 KV 抽象          │
//	│  engine/badger   BadgerDB 实现                │
//	└──────────────────────────────────────────────┘
//
// # 键空间设计
//
//   - d/v/<key-hex> - DHT 值条目（JSON）
//   - d/r/<bucket>/<id-hex> - 路由表快照
//
// 测试可使用 InMemory 模式，生产环境使用 Path 指定的数据库目录。
package storage

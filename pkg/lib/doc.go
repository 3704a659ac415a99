// Package lib 收纳与 DHT 协议无关的基础库
//
//   - crypto: Ed25519 密钥、签名与 NodeID 派生
//   - log: 按组件命名的 slog logger
//
// 公共类型在 pkg/types，组件接口在 pkg/interfaces。
package lib

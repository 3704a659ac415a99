// Package interfaces 定义 DHT 引擎与外部协作者之间的接口
//
// DHT 核心只依赖以下能力，具体实现由调用方注入：
//   - transport.go  - 点对点请求/响应传输（Transport、QueryHandler）
//   - bootstrap.go  - 种子节点提供者（SeedProvider）
//
// 测试用 gomock 实现位于 mocks 子包。
package interfaces

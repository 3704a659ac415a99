// Package transport 提供 DHT 使用的请求/响应传输
//
// 子包：
//   - tcp     - varint 长度前缀帧的 TCP 传输，生产环境使用
//   - memnet  - 进程内模拟网络，支持延迟与故障注入，用于测试和演示
//
// Module() 以统一配置创建 TCP 传输，并在启动时把入站请求交给 DHT 处理器。
package transport

// Package introspect 提供本机诊断 HTTP 服务
//
// 配置 config.Diagnostics.MetricsAddr 后随节点启动，默认只绑定 127.0.0.1。
// 所有端点只接受 GET：
//
//	/health                     路由表为空时 status=degraded
//	/debug/dht                  节点概况
//	/debug/dht/peers            路由表节点，按桶排序
//	/debug/dht/buckets          每个非空桶的活性分布
//	/debug/dht/buckets/{index}  单个桶的节点
//	/debug/pprof/*              pprof
//	/metrics                    Prometheus 指标
package introspect

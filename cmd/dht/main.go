// Package main 提供 DHT 节点命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dht "github.com/dep2p/go-dht"
	"github.com/dep2p/go-dht/internal/core/transport/memnet"
	"github.com/dep2p/go-dht/pkg/interfaces"
	"github.com/dep2p/go-dht/pkg/lib/log"
	"github.com/dep2p/go-dht/pkg/types"
)

var logger = log.Logger("dht/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
//   命令行参数：运行时覆盖 / 快速测试
//   JSON 配置文件：持久化配置 / 长期运行
//
// 优先级：命令行 > 环境变量（DHT_*）> 配置文件 > 默认值
//
// ═══════════════════════════════════════════════════════════════════════════
var (
	configFile = flag.String("config", "", "配置文件路径（JSON）")
	listenAddr = flag.String("listen", "", "监听地址 host:port")
	advertise  = flag.String("advertise", "", "对外公布的地址（监听 0.0.0.0 时必需）")
	dataDir    = flag.String("data", "", "数据目录")
	inMemory   = flag.Bool("memory", false, "不落盘（值和路由表重启后丢失）")
	keyFile    = flag.String("key", "", "身份密钥文件路径（不存在时自动生成）")
	metrics    = flag.String("metrics", "", "诊断服务地址（含 /metrics），为空不启用")
	logLevel   = flag.String("log-level", "info", "日志级别 (debug/info/warn/error)")
	logJSON    = flag.Bool("log-json", false, "以 JSON 行输出日志")

	// 一次性操作：启动、执行、退出
	putValue = flag.String("put", "", "发布值后退出，格式 name=value")
	getKey   = flag.String("get", "", "查找键对应的值后退出")

	demoNodes   = flag.Int("demo", 0, "在进程内模拟网络上运行 N 个节点的演示")
	showVersion = flag.Bool("version", false, "显示版本信息")
	showHelp    = flag.Bool("help", false, "显示帮助信息")

	seeds stringList
)

func init() {
	flag.Var(&seeds, "seed", "种子节点 <NodeID>@<host:port>（可重复）")
}

// stringList 可重复的字符串参数
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(dht.VersionInfo())
		return nil
	}
	if *showHelp {
		printHelp()
		return nil
	}

	level := *logLevel
	if !isFlagSet("log-level") {
		if v := getLogLevelFromEnv(); v != "" {
			level = v
		}
	}
	log.Setup(os.Stderr, log.ParseLevel(level), *logJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *demoNodes > 0 {
		return runDemo(ctx, *demoNodes)
	}

	opts, err := buildOptions()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	fmt.Printf("📦 %s\n", dht.VersionInfo())
	logger.Info("启动 DHT 节点", "version", dht.Version, "commit", dht.GitCommit, "buildDate", dht.BuildDate)

	node, err := dht.Start(ctx, opts...)
	if err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() { _ = node.Close() }()

	// 一次性操作
	if *putValue != "" || *getKey != "" {
		waitForPeers(ctx, node, 5*time.Second)
		return runOnce(ctx, node)
	}

	printNodeInfo(node)

	fmt.Println("节点已启动，按 Ctrl+C 退出")
	waitForSignal()

	fmt.Println("\n正在关闭节点...")
	return nil
}

// buildOptions 构建选项
//
// 配置文件和环境变量合并成一个完整配置，命令行参数作为后续选项覆盖。
func buildOptions() ([]dht.Option, error) {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	applyEnvOverrides(cfg)

	// WithConfig 必须在最前面，后续选项才能覆盖
	opts := []dht.Option{dht.WithConfig(cfg)}

	if isFlagSet("listen") {
		opts = append(opts, dht.WithListenAddr(*listenAddr))
	}
	if isFlagSet("advertise") {
		opts = append(opts, dht.WithAdvertiseAddr(*advertise))
	}
	if isFlagSet("key") && *keyFile != "" {
		opts = append(opts, dht.WithIdentityFromFile(*keyFile))
	}
	if isFlagSet("data") && *dataDir != "" {
		opts = append(opts, dht.WithDataDir(*dataDir))
	}
	if *inMemory {
		opts = append(opts, dht.WithInMemoryStorage())
	}
	if isFlagSet("metrics") {
		opts = append(opts, dht.WithMetricsAddr(*metrics))
	}
	if len(seeds) > 0 {
		opts = append(opts, dht.WithBootstrapPeers(seeds...))
	}

	return opts, nil
}

// runOnce 执行 -put / -get
func runOnce(ctx context.Context, node *dht.Node) error {
	if *putValue != "" {
		name, value, ok := strings.Cut(*putValue, "=")
		if !ok || name == "" {
			return fmt.Errorf("-put 格式应为 name=value")
		}
		res, err := node.Store(ctx, name, []byte(value), 0)
		if err != nil {
			return fmt.Errorf("发布失败: %w", err)
		}
		fmt.Printf("已发布 %q 到 %d 个副本\n", name, res.Replicas)
		fmt.Printf("键: %s\n", res.Entry.Key)
	}

	if *getKey != "" {
		key, err := types.ParseNodeID(*getKey)
		if err != nil {
			return fmt.Errorf("无效的键: %w", err)
		}
		entry, err := node.FindValue(ctx, key)
		if err != nil {
			return fmt.Errorf("查找失败: %w", err)
		}
		fmt.Printf("值: %s\n", entry.Value)
		fmt.Printf("发布者: %s  seq: %d\n", entry.PublisherID(), entry.Seq)
	}
	return nil
}

// runDemo 在进程内模拟网络上启动 n 个节点，发布并查找一个值
func runDemo(ctx context.Context, n int) error {
	if n < 2 {
		return errors.New("演示至少需要 2 个节点")
	}
	network := memnet.New()

	nodes := make([]*dht.Node, 0, n)
	defer func() {
		for _, node := range nodes {
			_ = node.Close()
		}
	}()

	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("demo-%d", i)
		opts := []dht.Option{
			dht.WithListenAddr(addr),
			dht.WithInMemoryStorage(),
			dht.WithTransport(network.Endpoint(addr), func(h interfaces.QueryHandler) {
				network.Register(addr, h)
			}),
		}
		if i > 0 {
			opts = append(opts, dht.WithBootstrapPeers(nodes[0].Addr().String()))
		}
		node, err := dht.Start(ctx, opts...)
		if err != nil {
			return fmt.Errorf("启动演示节点 %d 失败: %w", i, err)
		}
		nodes = append(nodes, node)
		if i > 0 {
			waitForPeers(ctx, node, 5*time.Second)
		}
	}

	// 后加入的节点通过查找自身 ID 让早期节点认识它们
	for _, node := range nodes {
		if _, err := node.FindNode(ctx, node.ID()); err != nil {
			logger.Debug("自查找失败", "node", node.ID().ShortString(), "error", err)
		}
	}

	publisher, reader := nodes[0], nodes[n-1]
	res, err := publisher.Store(ctx, "demo", []byte("hello from "+publisher.ID().ShortString()), 0)
	if err != nil {
		return fmt.Errorf("发布失败: %w", err)
	}
	fmt.Printf("节点 %s 发布值，副本数 %d\n", publisher.ID().ShortString(), res.Replicas)

	entry, err := reader.FindValue(ctx, res.Entry.Key)
	if err != nil {
		return fmt.Errorf("查找失败: %w", err)
	}
	fmt.Printf("节点 %s 查到值: %s\n", reader.ID().ShortString(), entry.Value)

	for _, node := range nodes {
		st := node.Stats()
		fmt.Printf("  %-10s peers=%-3d values=%d\n", node.Addr().Addr, st.Peers, st.Values)
	}
	return nil
}

// waitForPeers 等待后台引导至少填入一个节点
func waitForPeers(ctx context.Context, node *dht.Node, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for node.Stats().Peers == 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			logger.Warn("等待引导超时，路由表为空")
			return
		case <-tick.C:
		}
	}
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// waitForSignal 等待退出信号
func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

// printNodeInfo 打印节点信息
//
// 输出包含可复制的完整地址，便于作为其他节点的 -seed。
func printNodeInfo(node *dht.Node) {
	st := node.Stats()

	fmt.Println()
	fmt.Println("╔════════════════════════════════════════════════════════════════════════╗")
	fmt.Printf("║  DHT Node Started (%-10s)                                         ║\n", dht.Version)
	fmt.Println("╠════════════════════════════════════════════════════════════════════════╣")
	fmt.Printf("║  Node ID: %-60s  ║\n", node.ID())
	fmt.Printf("║  Peers:   %-60d  ║\n", st.Peers)
	fmt.Printf("║  Values:  %-60d  ║\n", st.Values)
	fmt.Println("║                                                                        ║")
	fmt.Println("║  Seed address (copy to share):                                         ║")
	fmt.Printf("║    %-66s  ║\n", node.Addr())
	if diag := node.DiagnosticsAddr(); diag != "" {
		fmt.Println("║                                                                        ║")
		fmt.Printf("║  Diagnostics: %-56s  ║\n", "http://"+diag)
	}
	fmt.Println("╚════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func printHelp() {
	fmt.Println("用法: dht [选项]")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  dht -listen 127.0.0.1:4001 -key node.key -data ./data")
	fmt.Println("  dht -listen 127.0.0.1:4002 -memory -seed <NodeID>@127.0.0.1:4001")
	fmt.Println("  dht -listen 127.0.0.1:4003 -memory -seed <NodeID>@127.0.0.1:4001 -put greeting=hello")
	fmt.Println("  dht -demo 20")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	for _, name := range []string{envListenAddr, envAdvertiseAddr, envBootstrapPeers, envDataDir, envInMemory, envKeyFile, envMetricsAddr, envLogLevel} {
		fmt.Printf("  %s%s\n", envPrefix, name)
	}
}

package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-dht/internal/discovery/dht"
	"github.com/dep2p/go-dht/pkg/lib/log"
)

var logger = log.Logger("debug/introspect")

// DefaultAddr 默认只监听本机
const DefaultAddr = "127.0.0.1:6060"

// Source 诊断数据来源，*dht.DHT 实现该接口
type Source interface {
	Stats() dht.Stats
	RoutingTable() *dht.RoutingTable
}

// Config 服务配置
type Config struct {
	Addr   string
	Source Source

	// Gatherer 非空时挂载 /metrics
	Gatherer prometheus.Gatherer
}

// Server 本地诊断 HTTP 服务
type Server struct {
	config Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	started  time.Time
}

// New 创建诊断服务
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{config: cfg}
}

// Handler 返回路由，只接受 GET
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /debug/dht", s.needSource(s.handleSummary))
	mux.HandleFunc("GET /debug/dht/peers", s.needSource(s.handlePeers))
	mux.HandleFunc("GET /debug/dht/buckets", s.needSource(s.handleBuckets))
	mux.HandleFunc("GET /debug/dht/buckets/{index}", s.needSource(s.handleBucketPeers))

	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	if s.config.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start 开始监听，重复调用无效
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.server, s.listener, s.started = srv, ln, time.Now()

	go func() {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("诊断服务异常退出", "error", err)
		}
	}()
	logger.Info("诊断服务已启动", "addr", ln.Addr().String())
	return nil
}

// Stop 优雅关闭，最多等待 5 秒
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info("诊断服务已停止")
	return nil
}

// Running 是否正在监听
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Addr 返回实际监听地址，未启动时为配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ============================================================================
//                              响应
// ============================================================================

// Summary /debug/dht 的响应
type Summary struct {
	ID           string      `json:"id"`
	Addr         string      `json:"addr"`
	Peers        int         `json:"peers"`
	Values       int         `json:"values"`
	LocalRecords int         `json:"local_records"`
	Buckets      map[int]int `json:"buckets"`

	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
}

// PeerInfo 路由表中的一个节点
type PeerInfo struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	Bucket   int    `json:"bucket"`
	Liveness string `json:"liveness"`
	Failures int    `json:"failures,omitempty"`
	LastSeen string `json:"last_seen,omitempty"`
	RTT      string `json:"rtt,omitempty"`
}

// BucketInfo 非空桶的活性分布
type BucketInfo struct {
	Index    int            `json:"index"`
	Size     int            `json:"size"`
	Liveness map[string]int `json:"liveness"`
}

// HealthResponse 路由表为空时 Status 为 degraded
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ============================================================================
//                              处理器
// ============================================================================

// needSource 没有 DHT 时返回 503
func (s *Server) needSource(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.Source == nil {
			http.Error(w, "dht not available", http.StatusServiceUnavailable)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "ok", Uptime: s.uptime()}
	if s.config.Source == nil || s.config.Source.RoutingTable().Size() == 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	st := s.config.Source.Stats()
	sum := Summary{
		ID:           st.Self.ID.String(),
		Addr:         st.Self.Addr,
		Peers:        st.Peers,
		Values:       st.Values,
		LocalRecords: st.LocalRecords,
		Buckets:      map[int]int{},
		Uptime:       s.uptime(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
	}
	for i, n := range st.Buckets {
		if n > 0 {
			sum.Buckets[i] = n
		}
	}
	writeJSON(w, sum)
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.peers(-1))
}

func (s *Server) handleBuckets(w http.ResponseWriter, _ *http.Request) {
	byIndex := map[int]*BucketInfo{}
	for _, p := range s.peers(-1) {
		b := byIndex[p.Bucket]
		if b == nil {
			b = &BucketInfo{Index: p.Bucket, Liveness: map[string]int{}}
			byIndex[p.Bucket] = b
		}
		b.Size++
		b.Liveness[p.Liveness]++
	}

	out := make([]BucketInfo, 0, len(byIndex))
	for _, b := range byIndex {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	writeJSON(w, out)
}

func (s *Server) handleBucketPeers(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= dht.NumBuckets {
		http.Error(w, "bucket index out of range", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.peers(idx))
}

// peers 按桶序号排列路由表节点，bucket >= 0 时只返回该桶
func (s *Server) peers(bucket int) []PeerInfo {
	rt := s.config.Source.RoutingTable()
	self := rt.LocalID()

	out := []PeerInfo{}
	for _, p := range rt.AllPeers() {
		idx := dht.BucketIndex(self, p.ID)
		if bucket >= 0 && idx != bucket {
			continue
		}
		pi := PeerInfo{
			ID:       p.ID.String(),
			Addr:     p.Addr,
			Bucket:   idx,
			Liveness: p.Liveness.String(),
			Failures: p.Failures,
		}
		if !p.LastSeen.IsZero() {
			pi.LastSeen = p.LastSeen.UTC().Format(time.RFC3339)
		}
		if p.RTT > 0 {
			pi.RTT = p.RTT.String()
		}
		out = append(out, pi)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}

func (s *Server) uptime() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.IsZero() {
		return "0s"
	}
	return time.Since(s.started).Round(time.Second).String()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Debug("写入诊断响应失败", "error", err)
	}
}

package dht

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dht"

// metrics DHT 指标
//
// 收集器总是创建；Registerer 为 nil 时不注册，调用方无需判空。
type metrics struct {
	lookups      *prometheus.CounterVec
	lookupRounds prometheus.Histogram
	queries      *prometheus.CounterVec
	queryRTT     prometheus.Histogram
	retries      prometheus.Counter
	stores       *prometheus.CounterVec
	inbound      *prometheus.CounterVec
	republished  prometheus.Counter
	swept        prometheus.Counter
	evicted      prometheus.Counter

	gauges []prometheus.Collector
}

func newMetrics() *metrics {
	return &metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lookups_total",
			Help:      "Iterative lookups by mode and result.",
		}, []string{"mode", "result"}),
		lookupRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "lookup_rounds",
			Help:      "Rounds used per lookup.",
			Buckets:   prometheus.LinearBuckets(1, 1, 12),
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queries_total",
			Help:      "Outbound queries by message type and status.",
		}, []string{"type", "status"}),
		queryRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "query_rtt_seconds",
			Help:      "Round trip time of successful outbound queries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "query_retries_total",
			Help:      "Outbound queries retried after a timeout or transport error.",
		}),
		stores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "value_puts_total",
			Help:      "Value store writes by outcome.",
		}, []string{"result"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_requests_total",
			Help:      "Inbound requests by message type and outcome.",
		}, []string{"type", "result"}),
		republished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "republished_total",
			Help:      "Locally originated entries republished.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "expired_swept_total",
			Help:      "Expired entries removed by the sweep.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dead_peers_evicted_total",
			Help:      "Dead peers removed from the routing table.",
		}),
	}
}

// addGauges 添加按需计算的指标
func (m *metrics) addGauges(rt *RoutingTable, vs *ValueStore, pub *Publisher) {
	m.gauges = append(m.gauges,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "routing_table_peers",
			Help:      "Peers currently held in the routing table.",
		}, func() float64 { return float64(rt.Size()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "stored_values",
			Help:      "Entries currently held in the value store.",
		}, func() float64 { return float64(vs.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "local_records",
			Help:      "Locally originated records kept for republishing.",
		}, func() float64 { return float64(pub.Len()) }),
	)
}

func (m *metrics) collectors() []prometheus.Collector {
	cs := []prometheus.Collector{
		m.lookups, m.lookupRounds, m.queries, m.queryRTT, m.retries,
		m.stores, m.inbound, m.republished, m.swept, m.evicted,
	}
	return append(cs, m.gauges...)
}

// register 注册到 reg，已注册的收集器被忽略
func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				logger.Warn("指标已注册，跳过", "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// unregister 从 reg 注销
func (m *metrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

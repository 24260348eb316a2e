package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels of rpc calls
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

type Metrics struct {
	registry   *prometheus.Registry
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec
	rpcCnt     *prometheus.CounterVec
	rpcDur     *prometheus.HistogramVec
	rpcInfl    *prometheus.GaugeVec
	reconnects prometheus.Counter
	dropped    *prometheus.CounterVec
	poolSize   prometheus.Gauge
	streamCnt  *prometheus.CounterVec
	streamDur  *prometheus.HistogramVec
	toolCnt    *prometheus.CounterVec
	toolDur    *prometheus.HistogramVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	streamBuckets := prometheus.ExponentialBuckets(0.5, 2, 10)

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:   r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"}),
		httpDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "route", "status"}),
		httpInfl:   prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"}),
		rpcCnt:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_rpc_total"}, []string{"method", "status"}),
		rpcDur:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "gateway_rpc_duration_seconds", Buckets: buckets}, []string{"method", "status"}),
		rpcInfl:    prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "gateway_rpc_inflight"}, []string{"method"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "gateway_reconnects_total"}),
		dropped:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "gateway_frames_dropped_total"}, []string{"reason"}),
		poolSize:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "gateway_pool_connections"}),
		streamCnt:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "stream_requests_total"}, []string{"mode", "outcome"}),
		streamDur:  prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "stream_duration_seconds", Buckets: streamBuckets}, []string{"mode", "outcome"}),
		toolCnt:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tool_calls_total"}, []string{"tool_name", "status"}),
		toolDur:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "tool_call_duration_seconds", Buckets: streamBuckets}, []string{"tool_name", "status"}),
	}
	r.MustRegister(m.httpReqCnt, m.httpDur, m.httpInfl)
	r.MustRegister(m.rpcCnt, m.rpcDur, m.rpcInfl, m.reconnects, m.dropped, m.poolSize)
	r.MustRegister(m.streamCnt, m.streamDur, m.toolCnt, m.toolDur)
	return m
}

func (m *Metrics) RPCStart(method string) {
	m.rpcInfl.WithLabelValues(method).Inc()
}

func (m *Metrics) RPCDone(method string, since time.Time, status string) {
	m.rpcCnt.WithLabelValues(method, status).Inc()
	m.rpcDur.WithLabelValues(method, status).Observe(time.Since(since).Seconds())
	m.rpcInfl.WithLabelValues(method).Dec()
}

func (m *Metrics) ReconnectScheduled(attempt int, delay time.Duration) {
	m.reconnects.Inc()
}

func (m *Metrics) FrameDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetPoolSize(n int) {
	m.poolSize.Set(float64(n))
}

func (m *Metrics) StreamDone(mode, outcome string, since time.Time) {
	m.streamCnt.WithLabelValues(mode, outcome).Inc()
	m.streamDur.WithLabelValues(mode, outcome).Observe(time.Since(since).Seconds())
}

func (m *Metrics) ToolCallDone(toolName string, success bool, d time.Duration) {
	status := StatusOK
	if !success {
		status = StatusError
	}
	m.toolCnt.WithLabelValues(toolName, status).Inc()
	m.toolDur.WithLabelValues(toolName, status).Observe(d.Seconds())
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ari/llm-ledger/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "llm_ledger"

// LedgerSource is the read side of the ledger the collector scrapes
type LedgerSource interface {
	SessionSummary() tracker.CostSummary
	ObservabilityReport() tracker.ObservabilityReport
}

// LedgerCollector exports per-agent ledger figures at scrape time. Each
// scrape builds an observability report, so agents are not guaranteed to be
// read at the same instant.
type LedgerCollector struct {
	source LedgerSource

	calls      *prometheus.Desc
	errors     *prometheus.Desc
	tokens     *prometheus.Desc
	cost       *prometheus.Desc
	latency    *prometheus.Desc
	avgLatency *prometheus.Desc
	maxLatency *prometheus.Desc
	records    *prometheus.Desc
}

// NewLedgerCollector creates a collector reading from source
func NewLedgerCollector(source LedgerSource) *LedgerCollector {
	agent := []string{"agent"}
	return &LedgerCollector{
		source: source,
		calls: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "calls_total"),
			"LLM calls recorded per agent.", agent, nil),
		errors: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "errors_total"),
			"Failed LLM calls recorded per agent.", agent, nil),
		tokens: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "tokens_total"),
			"Prompt plus completion tokens per agent.", agent, nil),
		cost: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "cost_usd_total"),
			"Estimated USD cost per agent.", agent, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "latency_ms"),
			"Nearest-rank call latency percentiles per agent.", []string{"agent", "quantile"}, nil),
		avgLatency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "latency_avg_ms"),
			"Mean call latency per agent.", agent, nil),
		maxLatency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agent", "latency_max_ms"),
			"Slowest call per agent.", agent, nil),
		records: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "records"),
			"Records currently held in the ledger.", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *LedgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.errors
	ch <- c.tokens
	ch <- c.cost
	ch <- c.latency
	ch <- c.avgLatency
	ch <- c.maxLatency
	ch <- c.records
}

// Collect implements prometheus.Collector
func (c *LedgerCollector) Collect(ch chan<- prometheus.Metric) {
	session := c.source.SessionSummary()
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.GaugeValue, float64(session.TotalCalls))

	for _, obs := range c.source.ObservabilityReport().Sorted() {
		name := obs.AgentName
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(obs.CallCount), name)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(obs.ErrorCount), name)
		ch <- prometheus.MustNewConstMetric(c.tokens, prometheus.CounterValue, float64(obs.TotalTokens), name)
		ch <- prometheus.MustNewConstMetric(c.cost, prometheus.CounterValue, obs.TotalCostUSD, name)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, obs.P50LatencyMs, name, "0.5")
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, obs.P95LatencyMs, name, "0.95")
		ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, obs.AvgLatencyMs, name)
		ch <- prometheus.MustNewConstMetric(c.maxLatency, prometheus.GaugeValue, obs.MaxLatencyMs, name)
	}
}

// Registry bundles the ledger collector and HTTP request metrics
type Registry struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// NewRegistry registers the ledger collector and HTTP histograms/counters
func NewRegistry(source LedgerSource) (*Registry, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for dashboard API requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of dashboard API requests.",
	}, []string{"method", "route", "status"})

	for _, c := range []prometheus.Collector{NewLedgerCollector(source), requestDuration, requestTotal} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Registry{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}, nil
}

// Gatherer exposes the underlying registry, mainly for tests
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next to record request metrics. route is the mux
// pattern, not the request path.
func (r *Registry) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, req)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)

		r.requestTotal.WithLabelValues(req.Method, route, status).Inc()
		r.requestDuration.WithLabelValues(req.Method, route, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

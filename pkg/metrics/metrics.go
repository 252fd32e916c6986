package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the pipeline's operational counters.
type Metrics struct {
	registry *prometheus.Registry

	AlertsTotal       *prometheus.CounterVec
	LedgerSubmissions *prometheus.CounterVec
	LedgerRetries     prometheus.Counter
	ConfirmLatency    prometheus.Histogram
	RewardsIssued     prometheus.Counter
	MediaStored       prometheus.Counter
	TamperDetected    prometheus.Counter
	OrphanedMedia     prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safechain_alerts_total",
			Help: "Alert attempts by terminal state",
		}, []string{"state"}),
		LedgerSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safechain_ledger_submissions_total",
			Help: "Ledger submissions by operation and result",
		}, []string{"operation", "result"}),
		LedgerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safechain_ledger_retries_total",
			Help: "Transient ledger failures that were retried",
		}),
		ConfirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "safechain_ledger_confirm_seconds",
			Help:    "Time from submission to observed confirmation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		RewardsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safechain_rewards_issued_total",
			Help: "Confirmed responder reward issuances",
		}),
		MediaStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safechain_media_stored_total",
			Help: "Encrypted media objects written",
		}),
		TamperDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "safechain_media_tamper_total",
			Help: "Media retrievals that failed integrity verification",
		}),
		OrphanedMedia: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "safechain_media_orphaned",
			Help: "Media objects whose alert never reached the ledger",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "safechain_http_requests_total",
			Help: "HTTP requests by method, path and status",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safechain_http_request_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		m.AlertsTotal, m.LedgerSubmissions, m.LedgerRetries, m.ConfirmLatency,
		m.RewardsIssued, m.MediaStored, m.TamperDetected, m.OrphanedMedia,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}

// Middleware records per-request counters and latency.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

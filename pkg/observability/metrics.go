package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// API key gate metrics
	GateDecisionsTotal *prometheus.CounterVec

	// Webhook dispatch metrics
	DispatchDeliveriesTotal  *prometheus.CounterVec
	DispatchDeliveryDuration *prometheus.HistogramVec
	DispatchFanoutSize       prometheus.Histogram

	// Broadcast metrics
	BroadcastSendsTotal   *prometheus.CounterVec
	BroadcastSendDuration *prometheus.HistogramVec

	// Credential store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Rate limit metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ewers_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_gate_decisions_total",
				Help: "API key gate decisions by outcome reason",
			},
			[]string{"decision", "reason"},
		),
		DispatchDeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_dispatch_deliveries_total",
				Help: "Webhook delivery attempts by event tag and outcome",
			},
			[]string{"event", "outcome"},
		),
		DispatchDeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ewers_dispatch_delivery_duration_seconds",
				Help:    "Webhook delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		DispatchFanoutSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ewers_dispatch_fanout_size",
				Help:    "Number of subscribers per dispatched event",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		BroadcastSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_broadcast_sends_total",
				Help: "Channel send attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		BroadcastSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ewers_broadcast_send_duration_seconds",
				Help:    "Channel send duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_store_operations_total",
				Help: "Credential store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ewers_store_operation_duration_seconds",
				Help:    "Credential store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ewers_ratelimit_rejections_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limiter"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GateDecisionsTotal,
		m.DispatchDeliveriesTotal,
		m.DispatchDeliveryDuration,
		m.DispatchFanoutSize,
		m.BroadcastSendsTotal,
		m.BroadcastSendDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.RateLimitRejectionsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveGateDecision records an API key gate outcome. The reason label is
// where rejection detail lives; wire responses stay generic.
func (m *Metrics) ObserveGateDecision(decision, reason string) {
	m.GateDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// ObserveDelivery records a webhook delivery attempt
func (m *Metrics) ObserveDelivery(event string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.DispatchDeliveriesTotal.WithLabelValues(event, outcome).Inc()
	m.DispatchDeliveryDuration.WithLabelValues(event).Observe(duration.Seconds())
}

// ObserveFanoutSize records the subscriber count of one dispatched event
func (m *Metrics) ObserveFanoutSize(size int) {
	m.DispatchFanoutSize.Observe(float64(size))
}

// ObserveChannelSend records a broadcast channel send attempt
func (m *Metrics) ObserveChannelSend(channel string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.BroadcastSendsTotal.WithLabelValues(channel, outcome).Inc()
	m.BroadcastSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// MetricsMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.ObserveHTTPRequest(r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

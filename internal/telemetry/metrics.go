package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics records nothing.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	UpstreamLatencyMs    *prometheus.HistogramVec
	StreamEventsTotal    *prometheus.CounterVec
	ActiveStreams        prometheus.Gauge
	RateLimitHitTotal    prometheus.Counter
	BackendCircuitState  *prometheus.GaugeVec
	RegistryReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates the gateway metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_request_total",
			Help: "Chat completion requests by model and response status.",
		}, []string{"model", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_ms",
			Help:    "Total request duration in milliseconds, until the stream ends.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		}, []string{"model"}),

		UpstreamLatencyMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_latency_ms",
			Help:    "Time from dispatch until the backend returned response headers, in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"model"}),

		StreamEventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_stream_events_total",
			Help: "Events delivered to clients, by kind (data or diagnostic).",
		}, []string{"model", "kind"}),

		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_streams",
			Help: "Streams currently being relayed.",
		}),

		RateLimitHitTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limit_hit_total",
			Help: "Requests rejected by the per-client rate limit.",
		}),

		BackendCircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_circuit_state",
			Help: "Circuit breaker state per backend (0 closed, 1 open, 2 half-open).",
		}, []string{"backend"}),

		RegistryReloadsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_registry_reloads_total",
			Help: "Backend registry reloads by result.",
		}, []string{"result"}),
	}
}

// RecordRequest records a finished request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Model, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model).Observe(labels.DurationMs)
	if labels.UpstreamMs > 0 {
		m.UpstreamLatencyMs.WithLabelValues(labels.Model).Observe(labels.UpstreamMs)
	}
}

func (m *Metrics) RecordStreamEvent(model string, diagnostic bool) {
	if m == nil {
		return
	}
	kind := "data"
	if diagnostic {
		kind = "diagnostic"
	}
	m.StreamEventsTotal.WithLabelValues(model, kind).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.Inc()
}

func (m *Metrics) SetCircuitState(backend string, state int) {
	if m == nil {
		return
	}
	m.BackendCircuitState.WithLabelValues(backend).Set(float64(state))
}

func (m *Metrics) RecordRegistryReload(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.RegistryReloadsTotal.WithLabelValues(result).Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Model      string
	Status     string
	DurationMs float64
	UpstreamMs float64
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Call Request Queue Metrics
	callRequestsTotal    prometheus.Counter
	callRequestsResolved *prometheus.CounterVec
	callRequestsPending  prometheus.Gauge

	// Signaling Metrics
	signalsSentTotal     *prometheus.CounterVec
	signalsDroppedTotal  prometheus.Counter
	websocketConnections prometheus.Gauge

	// Call Lifecycle Metrics
	callsActive   prometheus.Gauge
	callsDuration prometheus.Histogram

	// Upload Metrics
	uploadsTotal  *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

// New creates and registers all Prometheus metrics
func New(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		callRequestsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "call_requests_total",
				Help:        "Total number of call requests created",
				ConstLabels: labels,
			},
		),
		callRequestsResolved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_requests_resolved_total",
				Help:        "Call requests resolved, by outcome",
				ConstLabels: labels,
			},
			[]string{"outcome"},
		),
		callRequestsPending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "call_requests_pending",
				Help:        "Number of call requests waiting for an agent",
				ConstLabels: labels,
			},
		),
		signalsSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "signals_sent_total",
				Help:        "Signals relayed through the session hub, by type",
				ConstLabels: labels,
			},
			[]string{"type"},
		),
		signalsDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "signals_dropped_total",
				Help:        "Signals that could not be delivered to a participant",
				ConstLabels: labels,
			},
		),
		websocketConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Active WebSocket signaling connections",
				ConstLabels: labels,
			},
		),
		callsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "calls_active",
				Help:        "Calls currently joined by both parties",
				ConstLabels: labels,
			},
		),
		callsDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "call_duration_seconds",
				Help:        "Duration of completed calls",
				ConstLabels: labels,
				Buckets:     []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
		),
		uploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "uploads_total",
				Help:        "File uploads, by status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		uploadedBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "uploaded_bytes_total",
				Help:        "Total bytes accepted by the upload endpoint",
				ConstLabels: labels,
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// RecordCallRequestCreated records a new pending call request
func (m *Metrics) RecordCallRequestCreated() {
	m.callRequestsTotal.Inc()
	m.callRequestsPending.Inc()
}

// RecordCallRequestResolved records a call request leaving the queue
func (m *Metrics) RecordCallRequestResolved(outcome string) {
	m.callRequestsResolved.WithLabelValues(outcome).Inc()
	m.callRequestsPending.Dec()
}

// RecordSignalSent records a relayed signal
func (m *Metrics) RecordSignalSent(signalType string) {
	m.signalsSentTotal.WithLabelValues(signalType).Inc()
}

// RecordSignalDropped records an undeliverable signal
func (m *Metrics) RecordSignalDropped() { m.signalsDroppedTotal.Inc() }

// IncrementWebsocketConnections increments the WS connection gauge
func (m *Metrics) IncrementWebsocketConnections() { m.websocketConnections.Inc() }

// DecrementWebsocketConnections decrements the WS connection gauge
func (m *Metrics) DecrementWebsocketConnections() { m.websocketConnections.Dec() }

// RecordCallStarted increments the active call gauge
func (m *Metrics) RecordCallStarted() { m.callsActive.Inc() }

// RecordCallEnded decrements the active call gauge and observes duration
func (m *Metrics) RecordCallEnded(duration time.Duration) {
	m.callsActive.Dec()
	m.callsDuration.Observe(duration.Seconds())
}

// RecordUpload records an upload attempt
func (m *Metrics) RecordUpload(status string, size int64) {
	m.uploadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		m.uploadedBytes.Add(float64(size))
	}
}

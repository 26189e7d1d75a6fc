package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	notifications     prometheus.Counter
	fanoutFailures    prometheus.Counter
	fanoutRecipients  prometheus.Histogram
	deliveries        *prometheus.CounterVec
	openSubscriptions prometheus.Gauge
}

// NewMetrics registers collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_http_errors_total",
			Help: "Errors rendered to clients by domain code.",
		}, []string{"route", "method", "code"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_notifications_created_total",
			Help: "Notifications persisted by fan-out.",
		}),
		fanoutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "support_fanout_failures_total",
			Help: "Fan-out batches dropped after retries.",
		}),
		fanoutRecipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_fanout_recipients",
			Help:    "Recipients computed per fan-out event.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_snapshot_deliveries_total",
			Help: "Snapshots pushed to live subscriptions by topic family.",
		}, []string{"family"}),
		openSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_open_subscriptions",
			Help: "Live subscription handles.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.errors, m.notifications,
			m.fanoutFailures, m.fanoutRecipients, m.deliveries, m.openSubscriptions)
	}
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(route, method, code).Inc()
}

func (m *Metrics) NotificationsCreated(n int) {
	if m == nil {
		return
	}
	m.notifications.Add(float64(n))
}

func (m *Metrics) FanoutFailed() {
	if m == nil {
		return
	}
	m.fanoutFailures.Inc()
}

func (m *Metrics) FanoutRecipients(n int) {
	if m == nil {
		return
	}
	m.fanoutRecipients.Observe(float64(n))
}

func (m *Metrics) SnapshotDelivered(family string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(family).Inc()
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.openSubscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.openSubscriptions.Dec()
}

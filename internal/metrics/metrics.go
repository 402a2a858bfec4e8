// Package metrics defines the Prometheus collectors of the delivery engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsletter"

// Metrics holds every collector.
type Metrics struct {
	// Delivery
	deliveries      *prometheus.CounterVec
	providerLatency prometheus.Histogram
	batches         prometheus.Counter
	claimed         prometheus.Counter
	sendsFinished   *prometheus.CounterVec
	staleReleased   prometheus.Counter

	// Engagement
	events       *prometheus.CounterVec
	webhooks     *prometheus.CounterVec
	unsubscribes prometheus.Counter

	// HTTP
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration against the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Recipient deliveries by outcome.",
		}, []string{"status"}),
		providerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Email provider request latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Claimed batches processed.",
		}),
		claimed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_claimed_total",
			Help:      "Recipient tickets claimed for delivery.",
		}),
		sendsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_finished_total",
			Help:      "Sends reaching a final status.",
		}, []string{"status"}),
		staleReleased: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_claims_released_total",
			Help:      "Tickets returned to pending by the stale claim sweeper.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engagement_events_total",
			Help:      "Tracked open and click events.",
		}, []string{"type"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_webhooks_total",
			Help:      "Provider webhook deliveries by event type.",
		}, []string{"type"}),
		unsubscribes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsubscribes_total",
			Help:      "Successful unsubscribe requests.",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) Delivery(status string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(status).Inc()
	m.providerLatency.Observe(took.Seconds())
}

func (m *Metrics) Batch(claimed int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.claimed.Add(float64(claimed))
}

func (m *Metrics) SendFinished(status string) {
	if m == nil {
		return
	}
	m.sendsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) StaleReleased(n int) {
	if m == nil {
		return
	}
	m.staleReleased.Add(float64(n))
}

func (m *Metrics) Event(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Webhook(eventType string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Unsubscribe() {
	if m == nil {
		return
	}
	m.unsubscribes.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request count, latency and in-flight requests. The
// route label is the matched chi pattern, keeping cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(rw.status)
		m.requests.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

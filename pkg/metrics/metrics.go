package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Observe records one handled request.
func (m *ServerMetrics) Observe(handler string, status int, start time.Time) {
	m.Requests.WithLabelValues(handler, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
}

// CheckoutMetrics covers the client side of the checkout protocol.
type CheckoutMetrics struct {
	Settlements  *prometheus.CounterVec
	SettleMS     prometheus.Histogram
	Heartbeats   *prometheus.CounterVec
	Reported     *prometheus.CounterVec
	Transactions *prometheus.CounterVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	m := &CheckoutMetrics{
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "settlements_total",
			Help:      "Checkout requests by settlement outcome.",
		}, []string{"outcome"}),
		SettleMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "settlement_duration_ms",
			Help:      "Time from subscription to settlement in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		Heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "heartbeats_total",
			Help:      "Heartbeat RPCs by result.",
		}, []string{"result"}),
		Reported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reported_errors_total",
			Help:      "Errors reported by checkout sessions, by code.",
		}, []string{"code"}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "transactions_total",
			Help:      "Backend checkout transactions by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Settlements, m.SettleMS, m.Heartbeats, m.Reported, m.Transactions)
	return m
}

// ObserveSettlement implements coordinator.Observer.
func (m *CheckoutMetrics) ObserveSettlement(outcome string, d time.Duration) {
	m.Settlements.WithLabelValues(outcome).Inc()
	m.SettleMS.Observe(float64(d.Milliseconds()))
}

// ObserveHeartbeat counts one heartbeat RPC.
func (m *CheckoutMetrics) ObserveHeartbeat(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Heartbeats.WithLabelValues(result).Inc()
}

// CountReported counts one reported error.
func (m *CheckoutMetrics) CountReported(code string) {
	m.Reported.WithLabelValues(code).Inc()
}

// ObserveTransaction counts a backend transaction reaching status.
func (m *CheckoutMetrics) ObserveTransaction(status string) {
	m.Transactions.WithLabelValues(status).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the metrics of a specific registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

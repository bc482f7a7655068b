// Package metrics holds the Prometheus collectors shared by the API and the
// worker processes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	facilitatorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "facilitator_requests_total",
			Help: "Facilitator HTTP attempts by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	facilitatorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "facilitator_request_duration_seconds",
			Help:    "Facilitator HTTP attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"op"},
	)

	settlementOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Settlement worker outcomes (confirmed, failed, retry, skipped, reclaimed)",
		},
		[]string{"outcome"},
	)

	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	webhookFanoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_fanout_deliveries_total",
			Help: "Deliveries created by event fan-out",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(facilitatorRequestsTotal)
	prometheus.MustRegister(facilitatorRequestDuration)
	prometheus.MustRegister(settlementOutcomesTotal)
	prometheus.MustRegister(webhookDeliveriesTotal)
	prometheus.MustRegister(webhookFanoutTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTPRequest(method, endpoint string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func ObserveFacilitatorRequest(op, outcome string, d time.Duration) {
	facilitatorRequestsTotal.WithLabelValues(op, outcome).Inc()
	facilitatorRequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

func RecordSettlementOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	settlementOutcomesTotal.WithLabelValues(outcome).Add(float64(n))
}

func RecordWebhookDelivery(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func RecordWebhookFanout(created, failed int) {
	webhookFanoutTotal.WithLabelValues("created").Add(float64(created))
	webhookFanoutTotal.WithLabelValues("failed").Add(float64(failed))
}

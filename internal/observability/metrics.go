// Package observability exposes Prometheus metrics for the portal.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	metricsNamespace = "metalinked"
	outcomeSuccess   = "success"

	labelOperation = "operation"
	labelOutcome   = "outcome"
	labelMethod    = "method"
	labelRoute     = "route"
	labelStatus    = "status"
)

// Metrics groups the portal collectors. It implements portal.OutcomeRecorder.
type Metrics struct {
	operationsTotal     *prometheus.CounterVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	feedSubscribers     prometheus.Gauge
}

var _ portal.OutcomeRecorder = (*Metrics)(nil)

// NewMetrics registers the portal collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of session operations by outcome",
			},
			[]string{labelOperation, labelOutcome},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{labelMethod, labelRoute, labelStatus},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{labelMethod, labelRoute},
		),
		feedSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "feed_subscribers",
				Help:      "Number of open snapshot feed connections",
			},
		),
	}
}

// RecordOutcome counts a finished session operation. An empty kind is a success.
func (metrics *Metrics) RecordOutcome(operation string, kind portal.ErrorKind) {
	outcome := string(kind)
	if outcome == "" {
		outcome = outcomeSuccess
	}
	metrics.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRequest records one served HTTP request.
func (metrics *Metrics) ObserveRequest(method string, route string, status int, seconds float64) {
	metrics.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	metrics.httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// FeedOpened tracks a new snapshot feed connection.
func (metrics *Metrics) FeedOpened() {
	metrics.feedSubscribers.Inc()
}

// FeedClosed tracks a closed snapshot feed connection.
func (metrics *Metrics) FeedClosed() {
	metrics.feedSubscribers.Dec()
}

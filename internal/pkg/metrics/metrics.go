package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_orders_total",
		Help: "Orders by venue and resulting local status",
	}, []string{"venue", "status"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venuegate_request_duration_seconds",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_auth_failures_total",
		Help: "Rejected authentication attempts",
	}, []string{"reason"})

	AdmissionRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_admission_rejects_total",
		Help: "Requests rejected by rate limiting",
	}, []string{"scope", "class"})

	AdmissionFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venuegate_admission_fail_open_total",
		Help: "Requests admitted because the counter store was unavailable",
	})

	ConnectorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_connector_attempts_total",
		Help: "Remote venue calls by operation and outcome",
	}, []string{"venue", "op", "outcome"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venuegate_reconciliations_total",
		Help: "Order reconciliation outcomes",
	}, []string{"source", "outcome"})
)

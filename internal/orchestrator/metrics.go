package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Service call metrics
	serviceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadpick_service_requests_total",
			Help: "Total number of detection/warp service calls",
		},
		[]string{"action", "outcome"}, // outcome: success, transport_error, service_error, invalid
	)

	serviceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quadpick_service_request_duration_seconds",
			Help:    "Detection/warp service call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action"},
	)

	servicePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quadpick_service_pending",
			Help: "Number of service calls currently in flight",
		},
		[]string{"action"},
	)

	// Response ordering metrics
	staleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadpick_stale_responses_total",
			Help: "Responses that completed after a newer request of the same kind was issued",
		},
		[]string{"action", "discarded"},
	)

	// Detection result metrics
	candidatesDetected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quadpick_candidates_detected",
			Help:    "Number of well-formed candidates per detection",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 25},
		},
	)

	candidatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quadpick_candidates_dropped_total",
			Help: "Candidates dropped because they did not have exactly four points",
		},
	)
)

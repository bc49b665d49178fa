package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "quadpick_active_sessions",
			Help: "Number of open selection sessions",
		},
	)

	sessionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quadpick_session_events_total",
			Help: "Total number of user events dispatched to sessions",
		},
		[]string{"type"},
	)

	sessionsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quadpick_sessions_evicted_total",
			Help: "Sessions closed by the idle janitor",
		},
	)
)

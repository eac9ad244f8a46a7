// Package metrics provides Prometheus instrumentation for the signal tracker.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchesTotal counts indicator fetch attempts by timeframe and result.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_indicator_fetches_total",
		Help: "Indicator fetch attempts",
	}, []string{"timeframe", "result"})

	// FetchLatency tracks scanner round-trip time.
	FetchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_indicator_fetch_seconds",
		Help:    "Indicator fetch latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"timeframe"})

	// EntriesTotal counts positions opened, by direction.
	EntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_entries_total",
		Help: "Positions opened",
	}, []string{"direction"})

	// TransitionsTotal counts lifecycle transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_transitions_total",
		Help: "Position state transitions",
	}, []string{"from", "to", "outcome"})

	// ConflictsTotal counts transitions lost to a concurrent writer.
	ConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_transition_conflicts_total",
		Help: "Transitions rejected because the position changed concurrently",
	})

	// ConsistencyWarnings counts invariant violations that were logged and tolerated.
	ConsistencyWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_consistency_warnings_total",
		Help: "Consistency warnings by check",
	}, []string{"check"})

	// NotificationsTotal counts notification deliveries by kind and result.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_notifications_total",
		Help: "Notification delivery attempts",
	}, []string{"kind", "result"})

	// TrackedPositions tracks the size of the Active and Suspended partitions.
	TrackedPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_positions",
		Help: "Tracked positions by state",
	}, []string{"state"})

	// PendingTimers tracks armed suspension timers.
	PendingTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_suspension_timers",
		Help: "Armed suspension timers",
	})

	// CycleDuration tracks scheduler pass duration by cycle.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_cycle_seconds",
		Help:    "Scheduler cycle duration in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"cycle"})

	// CircuitState reports the gateway breaker state (0 closed, 1 half-open, 2 open).
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_circuit_state",
		Help: "Circuit breaker state",
	}, []string{"name"})
)

// Result returns the label for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// NewRouter returns the ops router serving /metrics and, when non-nil, the
// health and liveness handlers.
func NewRouter(health, live http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	if health != nil {
		r.Get("/healthz", health)
	}
	if live != nil {
		r.Get("/livez", live)
	}
	return r
}

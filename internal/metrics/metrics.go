package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tictactoe"

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

type Metrics struct {
	SessionsCreated prometheus.Counter
	Operations      *prometheus.CounterVec
	GamesFinished   *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// New registers the session collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Number of sessions created.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Session operations by kind and result.",
		}, []string{"operation", "result"}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Finished games by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_operation_duration_seconds",
			Help:      "Time spent in session operations, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(m.SessionsCreated, m.Operations, m.GamesFinished, m.Duration)

	return m
}

func (that *Metrics) Observe(operation, result string, started time.Time) {
	that.Operations.WithLabelValues(operation, result).Inc()
	that.Duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

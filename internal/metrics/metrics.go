// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "accompanist"

var (
	SpeedFactor = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "speed_factor",
		Help:      "Speed factor currently applied to accompaniment scheduling.",
	})

	SoloOnsets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "solo_onsets_total",
		Help:      "Solo onsets consumed by the conductor.",
	})

	DroppedOnsets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "solo_onsets_dropped_total",
		Help:      "Solo onsets dropped because the conductor queue was full.",
	})

	HeldDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "held_decisions_total",
		Help:      "Decisions where the previous speed factor was kept, by reason.",
	}, []string{"reason"})

	StepReward = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "step_reward",
		Help:      "Log-ratio reward of the most recent scored prediction.",
	})

	EventsFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "accompaniment_events_total",
		Help:      "Accompaniment events emitted by the scheduler.",
	})

	EmitLateness = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "emit_lateness_seconds",
		Help:      "Delay between an event's deadline and its emission.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})
)

// Hold reasons.
const (
	ReasonDegenerate = "degenerate_interval"
	ReasonWarmup     = "insufficient_history"
	ReasonTimeout    = "onset_timeout"
	ReasonPolicy     = "policy_error"
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

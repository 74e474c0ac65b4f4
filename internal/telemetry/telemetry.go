// Package telemetry holds the service's Prometheus instruments and the
// prefixed loggers the rest of the code writes through.
package telemetry

import (
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the engine and sweeps record into.
type Metrics struct {
	Registry *prometheus.Registry

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	StateTransitions  *prometheus.CounterVec
	FactsStored       prometheus.Counter
	FactsDropped      prometheus.Counter
	ConsolidationRuns *prometheus.CounterVec
	PackBuildDuration prometheus.Histogram
	LLMFallbacks      prometheus.Counter
}

// NewMetrics registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "turns_total",
			Help:      "Tutoring turns processed, by final state.",
		}, []string{"state"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mentora",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "state_transitions_total",
			Help:      "Accepted teaching-mode transitions.",
		}, []string{"from", "to"}),
		FactsStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "personal_facts_stored_total",
			Help:      "Personal facts persisted through the consent gate.",
		}),
		FactsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "personal_facts_dropped_total",
			Help:      "Personal facts rejected by confidence, consent or caps.",
		}),
		ConsolidationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "consolidation_runs_total",
			Help:      "Consolidation sweeps, by outcome.",
		}, []string{"outcome"}),
		PackBuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mentora",
			Name:      "memory_pack_build_seconds",
			Help:      "Memory pack assembly latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}),
		LLMFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mentora",
			Name:      "llm_fallbacks_total",
			Help:      "Turns answered with the local simulation reply.",
		}),
	}
}

// NewLogger returns a stderr logger with the given bracketed prefix,
// e.g. NewLogger("[ENGINE] ").
func NewLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

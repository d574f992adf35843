package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reader
	ReaderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energon",
		Subsystem: "reader",
		Name:      "calls_total",
		Help:      "Contract view calls by method and outcome (ok, revert, error)",
	}, []string{"method", "outcome"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "energon",
		Subsystem: "watcher",
		Name:      "poll_duration_seconds",
		Help:      "Duration of one poll pass",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	EnergonHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "energon",
		Subsystem: "watcher",
		Name:      "height",
		Help:      "Last observed energonHeight",
	})

	// Guardrail
	TickAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energon",
		Subsystem: "guard",
		Name:      "tick_attempts_total",
		Help:      "Tick submissions by source (manual, auto, cron) and outcome",
	}, []string{"source", "outcome"})

	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "energon",
		Subsystem: "guard",
		Name:      "rejections_total",
		Help:      "Tick evaluations rejected by reason",
	}, []string{"reason"})

	// Plasma
	PlasmaReleases = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "energon",
		Subsystem: "plasma",
		Name:      "releases_total",
		Help:      "Plasma accumulator wraps",
	})
)

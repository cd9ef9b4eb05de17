package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Polling loop iterations by engine",
		},
		[]string{"engine"},
	)

	iterationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "iteration_duration_seconds",
			Help:      "Duration of one polling iteration, excluding the sleep",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"engine"},
	)

	reconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "reconciliations_total",
			Help:      "Rule cache reconciliations by engine and result",
		},
		[]string{"engine", "result"},
	)

	fetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "fetch_errors_total",
			Help:      "Failed broker quote fetches",
		},
		[]string{"engine"},
	)

	evaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "evaluation_errors_total",
			Help:      "Condition trees that could not be evaluated against a snapshot",
		},
		[]string{"engine"},
	)

	triggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "triggers_total",
			Help:      "Triggers recorded by engine",
		},
		[]string{"engine"},
	)

	webhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by engine and outcome",
		},
		[]string{"engine", "outcome"},
	)

	engineRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "running",
			Help:      "1 while the engine loop is running",
		},
		[]string{"engine"},
	)

	cachedRules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "diting",
			Subsystem: "engine",
			Name:      "cached_rules",
			Help:      "Enabled rules cached by the engine after the last reconciliation",
		},
		[]string{"engine"},
	)
)

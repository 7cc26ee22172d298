// Package metrics exposes Prometheus counters and gauges for the
// trading engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BarsProcessed counts window bars handled by the engine
	BarsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltrader_bars_processed_total",
		Help: "Window bars processed by the strategy engine",
	})

	// SignalsGenerated counts open/close signals by kind
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltrader_signals_generated_total",
		Help: "Signals generated, labeled by signal name",
	}, []string{"signal"})

	// OrdersSent counts broker order dispatches
	OrdersSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltrader_orders_sent_total",
		Help: "Orders sent to the broker, labeled by direction and offset",
	}, []string{"direction", "offset"})

	// OrderTimeouts counts executor timeouts
	OrderTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltrader_order_timeouts_total",
		Help: "Managed orders that hit their deadline",
	})

	// RiskBreaches counts edge-triggered Greeks breaches
	RiskBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltrader_risk_breaches_total",
		Help: "Greeks risk breaches, labeled by level and greek",
	}, []string{"level", "greek"})

	// ActivePositions tracks open strategy positions
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voltrader_active_positions",
		Help: "Strategy positions currently holding volume",
	})

	// SnapshotSaves counts persistence writes by outcome
	SnapshotSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltrader_snapshot_saves_total",
		Help: "Snapshot save attempts, labeled by outcome",
	}, []string{"outcome"})

	// JobRuns counts background job executions by job and outcome
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voltrader_job_runs_total",
		Help: "Scheduled background job runs, labeled by job and outcome",
	}, []string{"job", "outcome"})

	// WorkerRestarts counts supervisor-initiated child restarts
	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voltrader_worker_restarts_total",
		Help: "Worker restarts performed by the supervisor",
	})
)

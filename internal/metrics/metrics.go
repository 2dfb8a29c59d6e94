// Package metrics defines the Prometheus collectors exported by the
// collector process. They are registered on the default registry and
// served by the control server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateWaits counts Acquire calls that had to wait for a window slot.
	GateWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expirytrack_gate_waits_total",
		Help: "Number of rate gate acquisitions that blocked on a quota window",
	})

	// GateWaitSeconds observes how long blocked acquisitions waited.
	GateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expirytrack_gate_wait_seconds",
		Help:    "Time spent waiting for a rate gate slot",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// GateRejections counts upstream overload signals fed back into the gate.
	GateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expirytrack_gate_rejections_total",
		Help: "Number of upstream rate limit rejections (HTTP 429)",
	})

	// UnitsCompleted counts units of work finished successfully, by phase.
	UnitsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expirytrack_units_completed_total",
		Help: "Units of work completed successfully",
	}, []string{"phase"})

	// UnitsFailed counts units of work that reached terminal failure, by phase.
	UnitsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expirytrack_units_failed_total",
		Help: "Units of work that exhausted retries or failed terminally",
	}, []string{"phase"})

	// UnitsRetried counts retryable unit failures, by phase.
	UnitsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "expirytrack_units_retried_total",
		Help: "Unit failures scheduled for retry",
	}, []string{"phase"})

	// CandlesWritten counts candle rows flushed to the store.
	CandlesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expirytrack_candles_written_total",
		Help: "Candle rows written by the batch writer",
	})

	// FlushDuration observes batch flush latency.
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "expirytrack_flush_duration_seconds",
		Help:    "Batch writer flush duration",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveWorkers tracks workers currently processing a unit.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "expirytrack_active_workers",
		Help: "Workers currently processing a unit of work",
	})
)

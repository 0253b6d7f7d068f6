package olp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for offload metrics.
var meter = otel.Meter("olp.engine")

// Metric instruments for offload decisions and recovery.
var (
	decisionsTotal      metric.Int64Counter
	dispatchDuration    metric.Float64Histogram
	rollbacksTotal      metric.Int64Counter
	violationsTotal     metric.Int64Counter
	checkpointsTotal    metric.Int64Counter
	activeDispatchGauge metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		decisionsTotal, err = meter.Int64Counter(
			"olp_decisions_total",
			metric.WithDescription("Total number of offload decisions by location and reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		dispatchDuration, err = meter.Float64Histogram(
			"olp_dispatch_duration_seconds",
			metric.WithDescription("Duration of task execution in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbacksTotal, err = meter.Int64Counter(
			"olp_rollbacks_total",
			metric.WithDescription("Total number of PIM dispatches rolled back to a checkpoint"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		violationsTotal, err = meter.Int64Counter(
			"olp_protocol_violations_total",
			metric.WithDescription("Total number of interrupts that matched no dispatch in flight"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		checkpointsTotal, err = meter.Int64Counter(
			"olp_checkpoints_registered_total",
			metric.WithDescription("Total number of checkpoint registrations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		activeDispatchGauge, err = meter.Int64UpDownCounter(
			"olp_dispatch_active",
			metric.WithDescription("Number of PIM dispatches currently in flight"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordDecision records a routing decision.
func recordDecision(ctx context.Context, loc Location, reason string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	decisionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("location", string(loc)),
		attribute.String("reason", reason),
	))
}

// recordDispatch records how long a task ran and how it ended.
// status is one of "success", "task_error" or "rolled_back".
func recordDispatch(ctx context.Context, loc Location, duration time.Duration, status string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	dispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("location", string(loc)),
		attribute.String("status", status),
	))
}

// recordRollback records a completed rollback.
func recordRollback(ctx context.Context, cause string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	rollbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", normalizeRollbackCause(cause)),
	))
}

// normalizeRollbackCause normalizes rollback causes to a bounded set.
func normalizeRollbackCause(cause string) string {
	switch cause {
	case string(ReasonCriticalMispredict):
		return "critical_mispredict"
	case string(ReasonHardwareFault):
		return "hardware_fault"
	default:
		return "task_error"
	}
}

// recordViolation records an interrupt that matched no dispatch in flight.
func recordViolation(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	violationsTotal.Add(ctx, 1)
}

// recordCheckpoint records a checkpoint registration.
func recordCheckpoint(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	checkpointsTotal.Add(ctx, 1)
}

// recordActive adjusts the in-flight PIM dispatch gauge by delta.
func recordActive(ctx context.Context, delta int64) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	activeDispatchGauge.Add(ctx, delta)
}

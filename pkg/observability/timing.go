package observability

import (
	"context"
	"log/slog"
	"time"
)

// Timer measures one operation and records it under MetricOperationDuration.
type Timer struct {
	operation string
	start     time.Time
	metrics   Metrics
	tags      []Tag
}

// StartTimer starts timing operation. A nil metrics collector is allowed.
func StartTimer(metrics Metrics, operation string, tags ...Tag) *Timer {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Timer{
		operation: operation,
		start:     time.Now(),
		metrics:   metrics,
		tags:      append(tags, T("operation", operation)),
	}
}

// Stop records the duration and an operation count, plus an error count
// when err is not nil.
func (t *Timer) Stop(err error) time.Duration {
	duration := time.Since(t.start)
	t.metrics.Timing(MetricOperationDuration, duration, t.tags...)
	t.metrics.Counter(MetricOperationTotal, 1, t.tags...)
	if err != nil {
		t.metrics.Counter(MetricOperationErrors, 1, t.tags...)
	}
	return duration
}

// Elapsed returns the elapsed time without stopping the timer.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// TimeOperation times fn and logs its outcome at debug level, or as an
// error when fn fails. A nil logger means slog.Default().
func TimeOperation(ctx context.Context, logger *slog.Logger, metrics Metrics, operation string, fn func() error) error {
	_, err := TimeOperationResult(ctx, logger, metrics, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// TimeOperationResult is TimeOperation for functions returning a value.
func TimeOperationResult[T any](ctx context.Context, logger *slog.Logger, metrics Metrics, operation string, fn func() (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timer := StartTimer(metrics, operation)
	value, err := fn()
	duration := timer.Stop(err)

	if err != nil {
		logger.ErrorContext(ctx, "operation failed",
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			ErrorKey, err,
		)
		return value, err
	}
	logger.DebugContext(ctx, "operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
	return value, nil
}

package dispatch

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// instruments holds the OpenTelemetry counters the Dispatcher records
// against, named in the teacher's metric-naming convention
// (service_noun_total).
type instruments struct {
	submitted metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	escalated metric.Int64Counter
}

func newInstruments(meter metric.Meter) instruments {
	submitted, _ := meter.Int64Counter("deltadispatch_tasks_submitted_total")
	succeeded, _ := meter.Int64Counter("deltadispatch_tasks_succeeded_total")
	failed, _ := meter.Int64Counter("deltadispatch_tasks_failed_total")
	retried, _ := meter.Int64Counter("deltadispatch_tasks_retried_total")
	cancelled, _ := meter.Int64Counter("deltadispatch_straggler_cancellations_total")
	escalated, _ := meter.Int64Counter("deltadispatch_tasks_escalated_total")
	return instruments{
		submitted: submitted,
		succeeded: succeeded,
		failed:    failed,
		retried:   retried,
		cancelled: cancelled,
		escalated: escalated,
	}
}

// logEvent emits the structured transition event spec.md §7 requires:
// task_id, attempt, kind?, size (scaler window), |inflight|, completed/total.
func (d *Dispatcher) logEvent(ctx context.Context, event, taskID string, attempt int, kind string, size, inflight, completed, total int) {
	attrs := []any{
		"event", event,
		"task_id", taskID,
		"attempt", attempt,
		"scaler_size", size,
		"inflight", inflight,
		"completed", completed,
		"total", total,
	}
	if kind != "" {
		attrs = append(attrs, "kind", kind)
	}
	slog.InfoContext(ctx, "dispatch transition", attrs...)
}

package runtime

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Cancellable is the subset of *dispatch.Dispatcher the registry needs:
// a single idempotent Cancel trigger.
type Cancellable interface {
	Cancel()
}

// CancellationRegistry tracks active runs by ID so an HTTP handler (or
// any other caller) can cancel one without holding a reference to the
// Dispatcher that owns it.
type CancellationRegistry struct {
	mu     sync.RWMutex
	active map[string]Cancellable

	cancellations metric.Int64Counter
	tracer        trace.Tracer
}

func NewCancellationRegistry(meter metric.Meter) *CancellationRegistry {
	cancellations, _ := meter.Int64Counter("deltadispatch_run_cancellations_total")
	return &CancellationRegistry{
		active:        make(map[string]Cancellable),
		cancellations: cancellations,
		tracer:        otel.Tracer("deltadispatch-cancellation"),
	}
}

// Register tracks a run as cancellable. Unregister must be called once
// the run finishes, regardless of outcome.
func (r *CancellationRegistry) Register(runID string, d Cancellable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[runID] = d
}

// Unregister stops tracking a finished run.
func (r *CancellationRegistry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, runID)
}

// Cancel triggers cancellation of a tracked run. Returns an error if the
// run is unknown (already finished, or never existed).
func (r *CancellationRegistry) Cancel(ctx context.Context, runID string) error {
	ctx, span := r.tracer.Start(ctx, "cancellation.cancel",
		trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	r.mu.RLock()
	d, ok := r.active[runID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not found or already finished: %s", runID)
	}

	d.Cancel()
	r.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("run_id", runID)))
	span.AddEvent("run_cancelled")
	return nil
}

// Active reports the run IDs currently tracked.
func (r *CancellationRegistry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// Package dispatch implements the task-submission scheduler described by
// the project specification: a concurrent batch Dispatcher that submits
// Tasks to a remote Executor, tracks in-flight work, retries failures
// under a per-error-kind policy with resource escalation, scales
// concurrency with a feedback controller, and reclaims stragglers.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Options configures one Dispatcher run. Executor is required; everything
// else has the spec.md §6 default.
type Options struct {
	Scaler       BatchScaler
	RetryPolicy  RetryPolicy
	Straggler    StragglerDetector
	Executor     Executor
	SubmitJitter time.Duration
	Meter        metric.Meter
}

func (o *Options) applyDefaults() {
	if o.Scaler == nil {
		o.Scaler = NewAIMDScaler()
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = NewDefaultRetryPolicy()
	}
	if o.Straggler == nil {
		o.Straggler = NoStragglerDetection()
	}
	if o.SubmitJitter == 0 {
		o.SubmitJitter = 5 * time.Millisecond
	}
	if o.Meter == nil {
		o.Meter = noop.MeterProvider{}.Meter("deltadispatch")
	}
}

// Dispatcher owns the lifecycle of exactly one run: the pending queue,
// the in-flight handle-to-task map, and the result ordering. Construct a
// fresh Dispatcher per run with New.
type Dispatcher struct {
	opts        Options
	instruments instruments

	cancelOnce sync.Once
	cancelCh   chan struct{}

	nextSubmissionID uint64

	// per-run state, populated by Run
	mu            sync.Mutex
	inflight      map[uint64]inflightEntry
	completedDurs []time.Duration
}

type inflightEntry struct {
	handle Handle
	task   *Task
}

// New constructs a Dispatcher for a single run.
func New(opts Options) *Dispatcher {
	opts.applyDefaults()
	return &Dispatcher{
		opts:        opts,
		instruments: newInstruments(opts.Meter),
		cancelCh:    make(chan struct{}),
		inflight:    make(map[uint64]inflightEntry),
	}
}

// Cancel triggers the run-level cancellation path. Idempotent and safe to
// call concurrently with Run, before or after it starts.
func (d *Dispatcher) Cancel() {
	d.cancelOnce.Do(func() { close(d.cancelCh) })
}

func (d *Dispatcher) cancelled() bool {
	select {
	case <-d.cancelCh:
		return true
	default:
		return false
	}
}

// Run executes tasks to completion (or to the first fatal error, or to
// cancellation) and returns the per-task results in input order.
func (d *Dispatcher) Run(ctx context.Context, tasks []*Task) ([]any, error) {
	if len(tasks) == 0 {
		return []any{}, nil
	}

	positions := make(map[*Task]int, len(tasks))
	for i, t := range tasks {
		positions[t] = i
		t.Attempt = 0
	}
	results := make([]any, len(tasks))

	d.opts.Scaler.Init(tasks)
	var retryQueue []*Task
	completed := 0
	// reclaims counts straggler resubmissions per task; they raise Attempt
	// but are not charged against the task's retry budget.
	reclaims := make(map[*Task]int)

	for {
		if d.cancelled() || ctx.Err() != nil {
			return d.drainCancel(ctx, completed)
		}

		// Admission: top up in-flight work to the scaler's current window.
		// Only the room left under Capacity is pulled from not-yet-submitted
		// input, and only once per pass — growth/shrinkage of the window is
		// driven entirely by MarkSuccess/MarkFailure during reap below, so
		// it actually bounds how many original tasks run concurrently.
		if d.opts.Scaler.HasNext() {
			d.mu.Lock()
			inflightCount := len(d.inflight)
			d.mu.Unlock()
			if room := d.opts.Scaler.Capacity() - inflightCount; room > 0 {
				batch := d.opts.Scaler.NextBatch(room)
				for _, task := range batch {
					if err := d.submitTask(ctx, task); err != nil {
						return nil, newRunError(ErrExecutorUnavailable, task.ID, task.Attempt, err)
					}
				}
			}
		}
		// Direct resubmission of retried / reclaimed tasks, outside the
		// scaler's admission window (spec.md §4.2).
		for len(retryQueue) > 0 {
			task := retryQueue[0]
			retryQueue = retryQueue[1:]
			if err := d.submitTask(ctx, task); err != nil {
				return nil, newRunError(ErrExecutorUnavailable, task.ID, task.Attempt, err)
			}
		}

		if len(d.inflight) == 0 {
			// Nothing in flight and nothing left to admit: done.
			if !d.opts.Scaler.HasNext() && len(retryQueue) == 0 {
				return results, nil
			}
			// Scaler reports more input but produced an empty batch and
			// nothing is in flight: treat as drained to avoid spinning.
			return results, nil
		}

		handles := d.inflightHandles()
		finished, _, err := d.opts.Executor.AwaitAny(ctx, handles, 1)
		if err != nil {
			return d.fatal(ctx, newRunError(ErrExecutorUnavailable, "", 0, err), completed)
		}

		for _, h := range finished {
			d.mu.Lock()
			entry, ok := d.inflight[h.SubmissionID]
			if ok {
				delete(d.inflight, h.SubmissionID)
			}
			d.mu.Unlock()
			if !ok {
				continue
			}
			task := entry.task

			outcome, err := d.opts.Executor.Await(ctx, h)
			if err != nil {
				return d.fatal(ctx, newRunError(ErrExecutorUnavailable, task.ID, task.Attempt, err), completed)
			}
			if !outcome.valid() {
				return d.fatal(ctx, newRunError(ErrInvariantViolation, task.ID, task.Attempt, nil), completed)
			}

			if outcome.Success != nil {
				idx := positions[task]
				results[idx] = outcome.Success.Value
				completed++
				dur := time.Since(task.FirstSubmitTS)
				d.completedDurs = append(d.completedDurs, dur)
				d.opts.Scaler.MarkSuccess(task)
				d.instruments.succeeded.Add(ctx, 1)
				d.logEvent(ctx, "success", task.ID, task.Attempt, "", d.scalerSize(), len(d.inflight), completed, len(tasks))
				continue
			}

			kind := outcome.Failure.Kind
			budgeted := *task
			budgeted.Attempt -= reclaims[task]
			c := classify(d.opts.RetryPolicy, &budgeted, kind)
			if !c.retryable() {
				fatalKind := ErrNonRetryable
				if c.exhausted {
					fatalKind = ErrRetriesExhausted
				}
				d.instruments.failed.Add(ctx, 1)
				d.logEvent(ctx, "fatal", task.ID, task.Attempt, kind, d.scalerSize(), len(d.inflight), completed, len(tasks))
				return d.fatal(ctx, newRunError(fatalKind, task.ID, task.Attempt, outcome.Failure.Err), completed)
			}

			escalate(task, c.rule)
			d.instruments.escalated.Add(ctx, 1)
			retryQueue = append(retryQueue, task)
			d.opts.Scaler.MarkFailure(task)
			d.instruments.retried.Add(ctx, 1)
			d.logEvent(ctx, "retry", task.ID, task.Attempt, kind, d.scalerSize(), len(d.inflight), completed, len(tasks))
		}

		// Straggler sweep: after each reap, check every still-inflight
		// handle.
		if _, isNoop := d.opts.Straggler.(noStragglerDetection); !isNoop {
			stragglerCtx := StragglerContext{Now: time.Now(), CompletedDurations: append([]time.Duration(nil), d.completedDurs...)}
			d.mu.Lock()
			var reclaimed []inflightEntry
			for id, entry := range d.inflight {
				if d.opts.Straggler.IsStraggler(entry.task, stragglerCtx) {
					delete(d.inflight, id)
					reclaimed = append(reclaimed, entry)
				}
			}
			d.mu.Unlock()
			for _, entry := range reclaimed {
				_ = d.opts.Executor.Cancel(ctx, entry.handle)
				reclaims[entry.task]++
				retryQueue = append(retryQueue, entry.task)
				d.instruments.cancelled.Add(ctx, 1)
				d.logEvent(ctx, "straggler_reclaim", entry.task.ID, entry.task.Attempt, "", d.scalerSize(), len(d.inflight), completed, len(tasks))
			}
		}
	}
}

func (d *Dispatcher) scalerSize() int {
	return d.opts.Scaler.Capacity()
}

func (d *Dispatcher) inflightHandles() []Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	handles := make([]Handle, 0, len(d.inflight))
	for _, entry := range d.inflight {
		handles = append(handles, entry.handle)
	}
	return handles
}

func (d *Dispatcher) submitTask(ctx context.Context, task *Task) error {
	select {
	case <-time.After(d.opts.SubmitJitter):
	case <-ctx.Done():
		return ctx.Err()
	}

	hints := task.Resources.Clone()
	handle, err := d.opts.Executor.Launch(ctx, task.Work, hints)
	if err != nil {
		return err
	}

	task.Attempt++
	now := time.Now()
	if task.FirstSubmitTS.IsZero() {
		task.FirstSubmitTS = now
	}
	task.LastSubmitTS = now

	d.mu.Lock()
	d.nextSubmissionID++
	handle.SubmissionID = d.nextSubmissionID
	d.inflight[handle.SubmissionID] = inflightEntry{handle: handle, task: task}
	d.mu.Unlock()

	d.instruments.submitted.Add(ctx, 1)
	d.logEvent(ctx, "submit", task.ID, task.Attempt, "", d.scalerSize(), len(d.inflight), 0, 0)
	return nil
}

// fatal cancels every still-in-flight handle before returning err, per
// spec.md §7's fatal-propagation rule: outcomes arriving during drain are
// dropped, never double-processed.
func (d *Dispatcher) fatal(ctx context.Context, err error, completed int) ([]any, error) {
	d.cancelAllInflight(ctx)
	return nil, err
}

// drainCancel implements the run-level cancellation path (spec.md §5):
// stop admission, cancel every in-flight handle, and return Cancelled.
func (d *Dispatcher) drainCancel(ctx context.Context, completed int) ([]any, error) {
	inflightAtCancel := len(d.inflight)
	d.cancelAllInflight(context.Background())
	return nil, newRunError(ErrCancelled, "", 0, cancelSummary{completed: completed, inflight: inflightAtCancel})
}

// cancelSummary satisfies the error interface so it can travel as
// RunError.Cause while still carrying the counts spec.md §8 scenario 6
// asks for.
type cancelSummary struct {
	completed int
	inflight  int
}

func (c cancelSummary) Error() string {
	return "cancelled"
}

func (d *Dispatcher) cancelAllInflight(ctx context.Context) {
	d.mu.Lock()
	entries := make([]inflightEntry, 0, len(d.inflight))
	for id, e := range d.inflight {
		entries = append(entries, e)
		delete(d.inflight, id)
	}
	d.mu.Unlock()
	for _, e := range entries {
		_ = d.opts.Executor.Cancel(ctx, e.handle)
	}
}

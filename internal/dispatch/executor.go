package dispatch

import "context"

// Handle is the Dispatcher's own reference to one in-flight submission.
// SubmissionID is assigned by the Dispatcher itself (monotonic, per run)
// so handle identity never depends on an Executor's internal string form
// (see spec.md §9 — "Handle identity").
type Handle struct {
	SubmissionID uint64
	Opaque       any
}

// Outcome is the tagged result of awaiting a Handle.
type Outcome struct {
	// Success is set when the task completed without error.
	Success *SuccessOutcome
	// Failure is set when the task raised an error the Executor surfaced.
	Failure *FailureOutcome
}

// SuccessOutcome carries the value produced by a completed Task.
type SuccessOutcome struct {
	Value any
}

// FailureOutcome carries the error kind and underlying error, prior to
// RetryPolicy classification.
type FailureOutcome struct {
	Kind string
	Err  error
}

func (o Outcome) valid() bool {
	return (o.Success != nil) != (o.Failure != nil)
}

// Executor is the external collaborator that actually runs a Task's work.
// Implementations must be reentrant and safe to call from the single
// scheduler goroutine; any parallelism is the Executor's own concern
// (spec.md §4.5).
type Executor interface {
	// Launch submits work non-blockingly and returns a Handle.
	Launch(ctx context.Context, work WorkDescriptor, hints ResourceHints) (Handle, error)
	// AwaitAny blocks until at least min(n, len(handles)) handles finish,
	// returning the finished ones and the still-pending remainder.
	AwaitAny(ctx context.Context, handles []Handle, n int) (finished []Handle, remaining []Handle, err error)
	// Await retrieves the outcome of a single finished Handle.
	Await(ctx context.Context, h Handle) (Outcome, error)
	// Cancel best-effort cancels an in-flight Handle. After Cancel
	// returns, h must eventually stop appearing in AwaitAny results.
	Cancel(ctx context.Context, h Handle) error
}

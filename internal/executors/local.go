package executors

import (
	"context"
	"fmt"

	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

// LocalFunc is a registered in-process callable a LocalExecutor can run.
type LocalFunc func(ctx context.Context, payload map[string]any) (any, error)

// LocalExecutor runs work in-process through a bounded worker pool,
// dispatching by WorkDescriptor.Kind to a registered LocalFunc. It
// exists for tests and for trusted, whitelisted callables — the
// in-process analogue of the teacher's sandboxed script executor, but
// without the sandboxing since only registered functions can run.
type LocalExecutor struct {
	futureTable
	funcs map[string]LocalFunc
	sem   chan struct{}
}

// NewLocalExecutor builds a LocalExecutor bounded to concurrency
// simultaneous goroutines.
func NewLocalExecutor(concurrency int) *LocalExecutor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &LocalExecutor{
		futureTable: newFutureTable(),
		funcs:       make(map[string]LocalFunc),
		sem:         make(chan struct{}, concurrency),
	}
}

// Register binds a Kind to the function that implements it. Not safe to
// call concurrently with Launch.
func (e *LocalExecutor) Register(kind string, fn LocalFunc) {
	e.funcs[kind] = fn
}

func (e *LocalExecutor) Launch(ctx context.Context, work dispatch.WorkDescriptor, hints dispatch.ResourceHints) (dispatch.Handle, error) {
	fn, ok := e.funcs[work.Kind]
	if !ok {
		return dispatch.Handle{}, fmt.Errorf("no local function registered for kind %q", work.Kind)
	}
	h, _, runCtx := e.register(ctx)
	go e.run(runCtx, h, fn, work.Payload)
	return h, nil
}

func (e *LocalExecutor) run(ctx context.Context, h dispatch.Handle, fn LocalFunc, payload map[string]any) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "Cancelled", Err: ctx.Err()}})
		return
	}
	defer func() { <-e.sem }()

	value, err := fn(ctx, payload)
	if err != nil {
		kind := "ExecutionError"
		if ctx.Err() == context.Canceled {
			kind = "Cancelled"
		}
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: kind, Err: err}})
		return
	}
	e.complete(h, dispatch.Outcome{Success: &dispatch.SuccessOutcome{Value: value}})
}

// Package executors provides concrete dispatch.Executor implementations:
// HTTP (request/response over a pooled client), NATS (request/reply over
// a shared connection with trace-context propagation), and Local (an
// in-process bounded worker pool for test fixtures and trusted callables).
package executors

import (
	"context"
	"sync"

	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

// future tracks one in-flight submission: its own cancellable context,
// and the channel its launching goroutine closes once an Outcome is
// ready.
type future struct {
	cancel context.CancelFunc
	done   chan struct{}
	result dispatch.Outcome
}

// futureTable is embeddable scaffolding shared by every Executor in this
// package: Launch registers a future under a monotonic opaque ID,
// AwaitAny/Await/Cancel operate purely against that table. Concrete
// executors only need to supply the goroutine that actually runs the
// work and eventually calls complete.
type futureTable struct {
	mu      sync.Mutex
	nextID  uint64
	futures map[uint64]*future
}

func newFutureTable() futureTable {
	return futureTable{futures: make(map[uint64]*future)}
}

// register allocates a handle and its future, returning a context the
// caller's launch goroutine should run under.
func (t *futureTable) register(parent context.Context) (dispatch.Handle, *future, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	ctx, cancel := context.WithCancel(parent)
	f := &future{cancel: cancel, done: make(chan struct{})}
	t.futures[id] = f
	return dispatch.Handle{Opaque: id}, f, ctx
}

func (t *futureTable) complete(h dispatch.Handle, outcome dispatch.Outcome) {
	t.mu.Lock()
	f, ok := t.futures[h.Opaque.(uint64)]
	t.mu.Unlock()
	if !ok {
		return
	}
	f.result = outcome
	close(f.done)
}

func (t *futureTable) get(h dispatch.Handle) (*future, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.futures[h.Opaque.(uint64)]
	return f, ok
}

// AwaitAny blocks until at least one of handles has a ready future,
// returning the finished/remaining split dispatch.Executor requires. n
// is honored on a best-effort basis: this implementation always returns
// as soon as one handle finishes rather than batching up to n, since the
// Dispatcher itself loops and calls AwaitAny again for the next one.
func (t *futureTable) AwaitAny(ctx context.Context, handles []dispatch.Handle, n int) ([]dispatch.Handle, []dispatch.Handle, error) {
	cases := make([]<-chan struct{}, 0, len(handles))
	for _, h := range handles {
		f, ok := t.get(h)
		if !ok {
			continue
		}
		cases = append(cases, f.done)
	}

	var finished, remaining []dispatch.Handle
	for _, h := range handles {
		f, ok := t.get(h)
		if !ok {
			continue
		}
		select {
		case <-f.done:
			finished = append(finished, h)
		default:
			remaining = append(remaining, h)
		}
	}
	if len(finished) > 0 {
		return finished, remaining, nil
	}

	// Nothing finished yet: block on the first one that does, or ctx
	// cancellation.
	selected := make(chan dispatch.Handle, 1)
	for _, h := range handles {
		h := h
		f, ok := t.get(h)
		if !ok {
			continue
		}
		go func() {
			select {
			case <-f.done:
				select {
				case selected <- h:
				default:
				}
			case <-ctx.Done():
			}
		}()
	}
	select {
	case h := <-selected:
		for _, hh := range handles {
			if hh == h {
				finished = append(finished, hh)
			} else {
				remaining = append(remaining, hh)
			}
		}
		return finished, remaining, nil
	case <-ctx.Done():
		return nil, handles, ctx.Err()
	}
}

func (t *futureTable) Await(ctx context.Context, h dispatch.Handle) (dispatch.Outcome, error) {
	f, ok := t.get(h)
	if !ok {
		return dispatch.Outcome{}, nil
	}
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return dispatch.Outcome{}, ctx.Err()
	}
}

func (t *futureTable) Cancel(ctx context.Context, h dispatch.Handle) error {
	f, ok := t.get(h)
	if !ok {
		return nil
	}
	f.cancel()
	return nil
}

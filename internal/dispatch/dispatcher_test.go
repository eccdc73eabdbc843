package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// recordingExecutor is a synchronous, in-memory Executor driven by a
// per-test script. Tasks are correlated across Launch calls by the
// "id" payload key, since Launch only sees a WorkDescriptor, not the
// originating *Task. Every Launch resolves its Outcome eagerly unless
// the task's ID is withheld (see withhold), which lets straggler tests
// force a handle to stay in flight until the Dispatcher cancels it.
type recordingExecutor struct {
	mu        sync.Mutex
	script    func(taskID string, attempt int) Outcome
	withhold  map[string]bool // task IDs whose first attempt never resolves on its own
	attempts  map[string]int
	resolved  map[uint64]Outcome
	ready     map[uint64]bool
	cancelled map[uint64]bool
	taskOf    map[uint64]string // opaque handle ID -> task ID
	nextID    uint64
}

func newRecordingExecutor(script func(taskID string, attempt int) Outcome) *recordingExecutor {
	return &recordingExecutor{
		script:    script,
		withhold:  make(map[string]bool),
		attempts:  make(map[string]int),
		resolved:  make(map[uint64]Outcome),
		ready:     make(map[uint64]bool),
		cancelled: make(map[uint64]bool),
		taskOf:    make(map[uint64]string),
	}
}

func (f *recordingExecutor) Launch(ctx context.Context, work WorkDescriptor, hints ResourceHints) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, _ := work.Payload["id"].(string)
	f.nextID++
	opaque := f.nextID
	f.taskOf[opaque] = id
	f.attempts[id]++
	attempt := f.attempts[id]

	if f.withhold[id] && attempt == 1 {
		// First attempt for a withheld task: stays pending until cancelled.
		f.ready[opaque] = false
		return Handle{Opaque: opaque}, nil
	}
	f.resolved[opaque] = f.script(id, attempt)
	f.ready[opaque] = true
	return Handle{Opaque: opaque}, nil
}

func (f *recordingExecutor) AwaitAny(ctx context.Context, handles []Handle, n int) ([]Handle, []Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var finished, remaining []Handle
	for _, h := range handles {
		opaque := h.Opaque.(uint64)
		if f.ready[opaque] {
			finished = append(finished, h)
		} else {
			remaining = append(remaining, h)
		}
	}
	return finished, remaining, nil
}

func (f *recordingExecutor) Await(ctx context.Context, h Handle) (Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved[h.Opaque.(uint64)], nil
}

func (f *recordingExecutor) Cancel(ctx context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	opaque := h.Opaque.(uint64)
	f.cancelled[opaque] = true
	f.ready[opaque] = false
	return nil
}

func (f *recordingExecutor) wasCancelled(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for opaque := range f.cancelled {
		if f.cancelled[opaque] && f.taskOf[opaque] == taskID {
			return true
		}
	}
	return false
}

func taskWithID(id string) *Task {
	return &Task{ID: id, Work: WorkDescriptor{Kind: "noop", Payload: map[string]any{"id": id}}}
}

// windowTrackingExecutor resolves exactly one in-flight handle per
// AwaitAny call, forcing the Dispatcher's admission loop to interleave
// with reap one step at a time instead of resolving everything eagerly
// the way recordingExecutor does. It records the high-water mark of
// concurrently in-flight handles so a test can assert the scaler's
// window actually bounded concurrency.
type windowTrackingExecutor struct {
	mu       sync.Mutex
	nextID   uint64
	ready    map[uint64]bool
	resolved map[uint64]Outcome
	inflight int
	peak     int
}

func newWindowTrackingExecutor() *windowTrackingExecutor {
	return &windowTrackingExecutor{
		ready:    make(map[uint64]bool),
		resolved: make(map[uint64]Outcome),
	}
}

func (e *windowTrackingExecutor) Launch(ctx context.Context, work WorkDescriptor, hints ResourceHints) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	opaque := e.nextID
	e.inflight++
	if e.inflight > e.peak {
		e.peak = e.inflight
	}
	return Handle{Opaque: opaque}, nil
}

func (e *windowTrackingExecutor) AwaitAny(ctx context.Context, handles []Handle, n int) ([]Handle, []Handle, error) {
	e.mu.Lock()
	for _, h := range handles {
		opaque := h.Opaque.(uint64)
		if !e.ready[opaque] {
			e.ready[opaque] = true
			e.resolved[opaque] = Outcome{Success: &SuccessOutcome{Value: "ok"}}
			e.inflight--
			break
		}
	}
	var finished, remaining []Handle
	for _, h := range handles {
		if e.ready[h.Opaque.(uint64)] {
			finished = append(finished, h)
		} else {
			remaining = append(remaining, h)
		}
	}
	e.mu.Unlock()
	return finished, remaining, nil
}

func (e *windowTrackingExecutor) Await(ctx context.Context, h Handle) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved[h.Opaque.(uint64)], nil
}

func (e *windowTrackingExecutor) Cancel(ctx context.Context, h Handle) error { return nil }

// TestDispatcherAdmissionBoundedByScalerWindow exercises the spec.md §8
// scenario 1 shape (5 tasks, AIMD initial=2/max=4/min=1/ai=1/md=0.5): the
// number of tasks in flight at once must never exceed the scaler's
// window, even on the very first pass through the main loop.
func TestDispatcherAdmissionBoundedByScalerWindow(t *testing.T) {
	exec := newWindowTrackingExecutor()
	scaler := &AIMDScaler{InitialSize: 2, MaxSize: 4, MinSize: 1, AdditiveIncrease: 1, MultiplicativeDecrease: 0.5}
	d := New(Options{Executor: exec, Scaler: scaler, SubmitJitter: time.Millisecond})

	tasks := []*Task{taskWithID("t1"), taskWithID("t2"), taskWithID("t3"), taskWithID("t4"), taskWithID("t5")}
	results, err := d.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	if exec.peak > scaler.MaxSize {
		t.Fatalf("peak concurrent in-flight = %d, want <= MaxSize %d", exec.peak, scaler.MaxSize)
	}
	if exec.peak == len(tasks) {
		t.Fatalf("peak concurrent in-flight = %d, admission drained the entire backlog in one pass", exec.peak)
	}
}

func TestDispatcherAllSuccessNoRetries(t *testing.T) {
	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = taskWithID(fmt.Sprintf("t%d", i))
	}
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		return Outcome{Success: &SuccessOutcome{Value: id + "-done"}}
	})
	d := New(Options{Executor: exec, SubmitJitter: time.Millisecond})
	results, err := d.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range results {
		if r != tasks[i].ID+"-done" {
			t.Fatalf("result[%d] = %v, want %s-done", i, r, tasks[i].ID)
		}
	}
	for _, task := range tasks {
		if task.Attempt != 1 {
			t.Fatalf("task %s attempt = %d, want 1", task.ID, task.Attempt)
		}
	}
}

func TestDispatcherRetrySucceedsWithEscalation(t *testing.T) {
	mem := int64(1000)
	task := taskWithID("retry-me")
	task.Resources = ResourceHints{Memory: &mem}
	task.RetryTable = map[string]RetryRule{
		"RateLimited": {MaxAttempts: 3, MemoryMultiplier: 1.5},
	}
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		if attempt == 1 {
			return Outcome{Failure: &FailureOutcome{Kind: "RateLimited", Err: fmt.Errorf("throttled")}}
		}
		return Outcome{Success: &SuccessOutcome{Value: "ok"}}
	})
	d := New(Options{Executor: exec, SubmitJitter: time.Millisecond})
	results, err := d.Run(context.Background(), []*Task{task})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0] != "ok" {
		t.Fatalf("result = %v, want ok", results[0])
	}
	if task.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", task.Attempt)
	}
	if *task.Resources.Memory != 1500 {
		t.Fatalf("memory = %d, want 1500", *task.Resources.Memory)
	}
}

func TestDispatcherRetriesExhausted(t *testing.T) {
	task := taskWithID("doomed")
	task.RetryTable = map[string]RetryRule{"RateLimited": {MaxAttempts: 2}}
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		return Outcome{Failure: &FailureOutcome{Kind: "RateLimited", Err: fmt.Errorf("throttled")}}
	})
	d := New(Options{Executor: exec, SubmitJitter: time.Millisecond})
	_, err := d.Run(context.Background(), []*Task{task})
	re, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %T (%v)", err, err)
	}
	if re.Kind != ErrRetriesExhausted {
		t.Fatalf("kind = %s, want RetriesExhausted", re.Kind)
	}
	if re.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", re.Attempts)
	}
}

func TestDispatcherNonRetryableUnknownKind(t *testing.T) {
	task := taskWithID("unknown-kind")
	task.RetryTable = map[string]RetryRule{"RateLimited": {MaxAttempts: 3}}
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		return Outcome{Failure: &FailureOutcome{Kind: "PermissionDenied", Err: fmt.Errorf("denied")}}
	})
	d := New(Options{Executor: exec, SubmitJitter: time.Millisecond})
	_, err := d.Run(context.Background(), []*Task{task})
	re, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %T (%v)", err, err)
	}
	if re.Kind != ErrNonRetryable {
		t.Fatalf("kind = %s, want NonRetryable", re.Kind)
	}
}

func TestDispatcherStragglerReclaim(t *testing.T) {
	slow := taskWithID("slow")
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		return Outcome{Success: &SuccessOutcome{Value: "ok"}}
	})
	exec.withhold["slow"] = true
	d := New(Options{
		Executor:     exec,
		SubmitJitter: time.Millisecond,
		Straggler:    DeadlineStragglerDetector{Deadline: time.Millisecond},
	})
	results, err := d.Run(context.Background(), []*Task{slow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0] != "ok" {
		t.Fatalf("result = %v, want ok", results[0])
	}
	if !exec.wasCancelled("slow") {
		t.Fatalf("expected slow task's first handle to be cancelled")
	}
	if slow.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2 (initial submit + reclaim resubmit)", slow.Attempt)
	}
}

func TestDispatcherCancelMidRun(t *testing.T) {
	task := taskWithID("a")
	exec := newRecordingExecutor(func(id string, attempt int) Outcome {
		return Outcome{Success: &SuccessOutcome{Value: "ok"}}
	})
	exec.withhold["a"] = true // stays in flight until Cancel reclaims it
	d := New(Options{Executor: exec, SubmitJitter: time.Millisecond})
	go func() {
		time.Sleep(5 * time.Millisecond)
		d.Cancel()
	}()
	_, err := d.Run(context.Background(), []*Task{task})
	re, ok := err.(*RunError)
	if !ok {
		t.Fatalf("expected *RunError, got %T (%v)", err, err)
	}
	if re.Kind != ErrCancelled {
		t.Fatalf("kind = %s, want Cancelled", re.Kind)
	}
	if !exec.wasCancelled("a") {
		t.Fatalf("expected in-flight handle to be cancelled on run cancellation")
	}
}

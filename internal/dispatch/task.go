package dispatch

import "time"

// WorkDescriptor is the executor-agnostic envelope for a unit of work: a
// callable's identity (Kind) plus whatever input it needs (Payload).
// Concrete Executors interpret Kind to decide how to launch the work.
type WorkDescriptor struct {
	Kind    string
	Payload map[string]any
}

// ResourceHints carries optional resource requests for a Task submission.
// A nil field means "absent" — the Dispatcher drops absent fields before
// handing hints to the Executor, and escalation only touches Memory.
type ResourceHints struct {
	Memory         *int64
	CPUs           *float64
	PlacementGroup *string
}

// Clone returns a deep-enough copy so escalation never mutates a hint
// shared with another in-flight submission.
func (r ResourceHints) Clone() ResourceHints {
	out := ResourceHints{}
	if r.Memory != nil {
		m := *r.Memory
		out.Memory = &m
	}
	if r.CPUs != nil {
		c := *r.CPUs
		out.CPUs = &c
	}
	if r.PlacementGroup != nil {
		p := *r.PlacementGroup
		out.PlacementGroup = &p
	}
	return out
}

// RetryRule is the retry policy for one recognized error kind.
type RetryRule struct {
	MaxAttempts         int
	MemoryMultiplier    float64
}

// Task is the unit of work submitted to the Dispatcher.
type Task struct {
	ID         string
	Work       WorkDescriptor
	Resources  ResourceHints
	RetryTable map[string]RetryRule

	Attempt int

	FirstSubmitTS time.Time
	LastSubmitTS  time.Time
}

// maxAttemptsSeen returns the lifetime attempt cap implied by every error
// kind this task's retry table names, per spec.md §3's invariant.
func (t *Task) maxAttemptsSeen() int {
	max := 0
	for _, rule := range t.RetryTable {
		if rule.MaxAttempts > max {
			max = rule.MaxAttempts
		}
	}
	return max
}

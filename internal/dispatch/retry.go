package dispatch

// RetryPolicy supplies the retry rule to use when a Task hasn't configured
// its own RetryTable at all. The Dispatcher always prefers a Task's own
// RetryTable entry for a given kind (spec.md §4.1.b: "If kind is not in
// the Task's retry_table ... fail the run"); RetryPolicy only comes into
// play for tasks with an empty RetryTable, giving opts.retry_policy's
// default (max_attempts=3, spec.md §6) somewhere to apply. This is the
// spec's own open point (§4, opts.retry_policy vs §4.1's per-Task table)
// resolved as documented in DESIGN.md.
type RetryPolicy interface {
	// DefaultRule returns the rule to apply for kind when task has no
	// RetryTable entries of its own.
	DefaultRule(kind string) RetryRule
}

type defaultRetryPolicy struct {
	rule RetryRule
}

// NewDefaultRetryPolicy returns the spec.md §6 default: max_attempts=3,
// no memory escalation.
func NewDefaultRetryPolicy() RetryPolicy {
	return &defaultRetryPolicy{rule: RetryRule{MaxAttempts: 3, MemoryMultiplier: 1}}
}

func (p *defaultRetryPolicy) DefaultRule(kind string) RetryRule {
	return p.rule
}

// classification is the outcome of classifying one Failure outcome
// against a Task's retry table (and, if empty, the run's RetryPolicy).
type classification struct {
	rule         RetryRule
	nonRetryable bool // kind unrecognized for this task: fatal NonRetryable
	exhausted    bool // kind recognized but attempt budget spent: fatal RetriesExhausted
}

func (c classification) retryable() bool { return !c.nonRetryable && !c.exhausted }

// classify applies spec.md §4.1.b's rule: an empty error kind ("" — the
// Executor could not classify the raw error at all) is always
// NonRetryable. Otherwise a Task with its own RetryTable entries is held
// strictly to them; a Task with none configured falls back to policy's
// default rule for any kind.
func classify(policy RetryPolicy, task *Task, kind string) classification {
	if kind == "" {
		return classification{nonRetryable: true}
	}

	rule, ok := task.RetryTable[kind]
	if !ok {
		if len(task.RetryTable) > 0 {
			return classification{nonRetryable: true}
		}
		rule = policy.DefaultRule(kind)
	}

	if task.Attempt >= rule.MaxAttempts {
		return classification{rule: rule, exhausted: true}
	}
	return classification{rule: rule}
}

// escalate applies memory-only resource escalation ahead of a retry
// resubmission (spec.md §4.3): multiplies Resources.Memory by the rule's
// MemoryMultiplier when the multiplier exceeds 1 and Memory is set. CPUs
// and PlacementGroup are never touched.
func escalate(task *Task, rule RetryRule) {
	if rule.MemoryMultiplier <= 1 || task.Resources.Memory == nil {
		return
	}
	scaled := int64(float64(*task.Resources.Memory) * rule.MemoryMultiplier)
	task.Resources.Memory = &scaled
}

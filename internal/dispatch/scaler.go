package dispatch

// BatchScaler decides how many new tasks to admit from the original input
// sequence. It indexes only over tasks handed to Init — retried and
// straggler-reclaimed tasks reappear in the Dispatcher's own pending
// queue and are resubmitted directly, never re-admitted through the
// scaler (spec.md §4.2).
type BatchScaler interface {
	Init(tasks []*Task)
	HasNext() bool
	// Capacity reports the current admission window: the target number of
	// tasks from the original input that should be in flight at once.
	Capacity() int
	// NextBatch returns up to n not-yet-submitted tasks, advancing past
	// them. Callers are expected to pass n no larger than the room left
	// under Capacity (Capacity minus tasks currently in flight), so window
	// growth/shrinkage actually bounds concurrency.
	NextBatch(n int) []*Task
	MarkSuccess(task *Task)
	MarkFailure(task *Task)
}

// AIMDScaler is the spec.md §6 default feedback controller: additive
// increase on success, multiplicative decrease on any failure, clamped to
// [MinSize, MaxSize].
type AIMDScaler struct {
	InitialSize            int
	MaxSize                int
	MinSize                int
	AdditiveIncrease        int
	MultiplicativeDecrease float64

	size   int
	tasks  []*Task
	cursor int
}

// NewAIMDScaler constructs a scaler with the spec.md §6 defaults:
// initial=50, max=100, min=10, ai=2, md=0.5.
func NewAIMDScaler() *AIMDScaler {
	s := &AIMDScaler{
		InitialSize:            50,
		MaxSize:                100,
		MinSize:                10,
		AdditiveIncrease:        2,
		MultiplicativeDecrease: 0.5,
	}
	s.size = s.InitialSize
	return s
}

func (s *AIMDScaler) Init(tasks []*Task) {
	s.tasks = tasks
	s.cursor = 0
	s.size = s.InitialSize
	if s.size > s.MaxSize {
		s.size = s.MaxSize
	}
	if s.size < s.MinSize {
		s.size = s.MinSize
	}
}

func (s *AIMDScaler) HasNext() bool {
	return s.cursor < len(s.tasks)
}

func (s *AIMDScaler) Capacity() int { return s.size }

func (s *AIMDScaler) NextBatch(n int) []*Task {
	if n <= 0 {
		return nil
	}
	end := s.cursor + n
	if end > len(s.tasks) {
		end = len(s.tasks)
	}
	batch := s.tasks[s.cursor:end]
	s.cursor = end
	return batch
}

func (s *AIMDScaler) MarkSuccess(task *Task) {
	s.size += s.AdditiveIncrease
	if s.size > s.MaxSize {
		s.size = s.MaxSize
	}
}

func (s *AIMDScaler) MarkFailure(task *Task) {
	s.size = int(float64(s.size) * s.MultiplicativeDecrease)
	if s.size < s.MinSize {
		s.size = s.MinSize
	}
}


package dispatch

import "testing"

func TestAIMDScalerNextBatchBoundedByArgument(t *testing.T) {
	s := &AIMDScaler{InitialSize: 2, MaxSize: 4, MinSize: 1, AdditiveIncrease: 1, MultiplicativeDecrease: 0.5}
	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = &Task{ID: string(rune('a' + i))}
	}
	s.Init(tasks)

	if got := s.Capacity(); got != 2 {
		t.Fatalf("initial capacity = %d, want 2", got)
	}

	batch := s.NextBatch(1)
	if len(batch) != 1 {
		t.Fatalf("NextBatch(1) returned %d tasks, want 1", len(batch))
	}
	if !s.HasNext() {
		t.Fatal("expected more tasks after a partial batch")
	}

	batch = s.NextBatch(s.Capacity())
	if len(batch) != 2 {
		t.Fatalf("NextBatch(capacity) returned %d tasks, want 2", len(batch))
	}

	batch = s.NextBatch(100)
	if len(batch) != 2 {
		t.Fatalf("NextBatch(100) with 2 remaining returned %d tasks, want 2", len(batch))
	}
	if s.HasNext() {
		t.Fatal("expected no tasks left")
	}
}

func TestAIMDScalerGrowsAndShrinksClamped(t *testing.T) {
	s := NewAIMDScaler()
	if s.Capacity() != 50 {
		t.Fatalf("capacity = %d, want 50", s.Capacity())
	}
	s.MarkSuccess(nil)
	if s.Capacity() != 52 {
		t.Fatalf("capacity after success = %d, want 52", s.Capacity())
	}
	s.MarkFailure(nil)
	if s.Capacity() != 26 {
		t.Fatalf("capacity after failure = %d, want 26", s.Capacity())
	}
	for i := 0; i < 10; i++ {
		s.MarkFailure(nil)
	}
	if s.Capacity() != s.MinSize {
		t.Fatalf("capacity = %d, want clamped to MinSize %d", s.Capacity(), s.MinSize)
	}
	for i := 0; i < 100; i++ {
		s.MarkSuccess(nil)
	}
	if s.Capacity() != s.MaxSize {
		t.Fatalf("capacity = %d, want clamped to MaxSize %d", s.Capacity(), s.MaxSize)
	}
}

func TestAIMDScalerNextBatchZeroOrNegative(t *testing.T) {
	s := &AIMDScaler{InitialSize: 2, MaxSize: 4, MinSize: 1, AdditiveIncrease: 1, MultiplicativeDecrease: 0.5}
	s.Init([]*Task{{ID: "a"}})
	if batch := s.NextBatch(0); batch != nil {
		t.Fatalf("NextBatch(0) = %v, want nil", batch)
	}
	if batch := s.NextBatch(-1); batch != nil {
		t.Fatalf("NextBatch(-1) = %v, want nil", batch)
	}
	if !s.HasNext() {
		t.Fatal("NextBatch(0) must not consume input")
	}
}

// Package runtime wires the dispatch package into a long-lived service:
// persisted run history, recurring cron-triggered runs, and a registry
// for cancelling runs in flight.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	bucketRuns      = []byte("runs")
	bucketSchedules = []byte("schedules")
)

// RunStatus is the terminal or in-progress state of one dispatch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunSummary is the persisted record of one dispatch run, independent of
// the in-memory Task/Outcome values the run actually produced.
type RunSummary struct {
	ID          string    `json:"id"`
	Status      RunStatus `json:"status"`
	TaskCount   int       `json:"task_count"`
	Completed   int       `json:"completed"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
}

// RunStore persists RunSummary records in BoltDB with a hot in-memory
// cache, mirroring the teacher's workflow store cache-then-disk pattern.
type RunStore struct {
	db    *bbolt.DB
	mu    sync.RWMutex
	cache map[string]RunSummary

	maxCacheSize int

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// NewRunStore opens (or creates) the BoltDB file at dbPath and warms the
// in-memory cache from it.
func NewRunStore(dbPath string, meter metric.Meter) (*RunStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketSchedules} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("deltadispatch_run_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("deltadispatch_run_store_write_ms")
	cacheHits, _ := meter.Int64Counter("deltadispatch_run_store_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("deltadispatch_run_store_cache_misses_total")

	store := &RunStore{
		db:           db,
		cache:        make(map[string]RunSummary),
		maxCacheSize: 1000,
		readLatency:  readLatency,
		writeLatency: writeLatency,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}
	if err := store.warmCache(); err != nil {
		return nil, fmt.Errorf("warm cache: %w", err)
	}
	return store, nil
}

func (s *RunStore) Close() error { return s.db.Close() }

// Put persists (or overwrites) a RunSummary.
func (s *RunStore) Put(ctx context.Context, run RunSummary) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put_run")))
	}()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(run.ID), data)
	}); err != nil {
		return fmt.Errorf("write run: %w", err)
	}

	s.mu.Lock()
	if len(s.cache) >= s.maxCacheSize {
		s.evictOldest()
	}
	s.cache[run.ID] = run
	s.mu.Unlock()
	return nil
}

// Get retrieves a RunSummary by ID, preferring the in-memory cache.
func (s *RunStore) Get(ctx context.Context, id string) (RunSummary, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get_run")))
	}()

	s.mu.RLock()
	if run, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1)
		return run, true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1)

	var run RunSummary
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return RunSummary{}, false, fmt.Errorf("read run: %w", err)
	}
	if found {
		s.mu.Lock()
		s.cache[id] = run
		s.mu.Unlock()
	}
	return run, found, nil
}

// List returns persisted RunSummaries, newest first by StartedAt, keeping
// only the first limit of them when limit > 0.
func (s *RunStore) List(ctx context.Context, limit int) ([]RunSummary, error) {
	var runs []RunSummary
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run RunSummary
			if err := json.Unmarshal(v, &run); err != nil {
				return nil
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j-1].StartedAt.Before(runs[j].StartedAt); j-- {
			runs[j-1], runs[j] = runs[j], runs[j-1]
		}
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RunStore) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run RunSummary
			if err := json.Unmarshal(v, &run); err != nil {
				return nil
			}
			s.cache[run.ID] = run
			return nil
		})
	})
}

func (s *RunStore) evictOldest() {
	var oldestID string
	var oldestTime time.Time
	for id, run := range s.cache {
		if oldestID == "" || run.StartedAt.Before(oldestTime) {
			oldestID, oldestTime = id, run.StartedAt
		}
	}
	if oldestID != "" {
		delete(s.cache, oldestID)
	}
}

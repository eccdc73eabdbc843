package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

// TaskSource produces the batch of Tasks a scheduled run should submit.
// Called fresh on every cron firing, since Tasks are consumed (Attempt
// reset) on each Run call.
type TaskSource func(ctx context.Context) ([]*dispatch.Task, error)

// DispatcherFactory builds a fresh Dispatcher for one run. Each run gets
// its own Dispatcher instance (spec.md: Dispatcher owns one run's
// lifecycle), so the factory is what lets the scheduler reuse Options
// across firings.
type DispatcherFactory func() *dispatch.Dispatcher

// ScheduleConfig binds a cron expression to a TaskSource.
type ScheduleConfig struct {
	Name     string
	CronExpr string
	Source   TaskSource
	Timeout  time.Duration
}

// Scheduler drives recurring Dispatcher runs from robfig/cron, persisting
// a RunSummary per firing and registering each run for cancellation.
type Scheduler struct {
	cron     *cron.Cron
	store    *RunStore
	registry *CancellationRegistry
	factory  DispatcherFactory

	mu        sync.Mutex
	schedules map[string]*ScheduleConfig

	runsTotal  metric.Int64Counter
	runsFailed metric.Int64Counter
	tracer     trace.Tracer
}

func NewScheduler(store *RunStore, registry *CancellationRegistry, factory DispatcherFactory, meter metric.Meter) *Scheduler {
	runsTotal, _ := meter.Int64Counter("deltadispatch_scheduled_runs_total")
	runsFailed, _ := meter.Int64Counter("deltadispatch_scheduled_run_failures_total")
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		store:      store,
		registry:   registry,
		factory:    factory,
		schedules:  make(map[string]*ScheduleConfig),
		runsTotal:  runsTotal,
		runsFailed: runsFailed,
		tracer:     otel.Tracer("deltadispatch-scheduler"),
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddSchedule registers a cron-triggered recurring dispatch run.
func (s *Scheduler) AddSchedule(cfg *ScheduleConfig) error {
	s.mu.Lock()
	s.schedules[cfg.Name] = cfg
	s.mu.Unlock()

	_, err := s.cron.AddFunc(cfg.CronExpr, func() {
		s.fire(context.Background(), cfg)
	})
	if err != nil {
		return fmt.Errorf("add cron schedule %s: %w", cfg.Name, err)
	}
	slog.Info("schedule added", "name", cfg.Name, "cron", cfg.CronExpr)
	return nil
}

func (s *Scheduler) fire(ctx context.Context, cfg *ScheduleConfig) {
	ctx, span := s.tracer.Start(ctx, "scheduler.fire",
		trace.WithAttributes(attribute.String("schedule", cfg.Name)))
	defer span.End()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	tasks, err := cfg.Source(ctx)
	if err != nil {
		slog.Error("schedule source failed", "name", cfg.Name, "error", err)
		s.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule", cfg.Name)))
		return
	}

	summary := RunSummary{ID: runID, Status: RunStatusRunning, TaskCount: len(tasks), StartedAt: time.Now()}
	if err := s.store.Put(ctx, summary); err != nil {
		slog.Error("failed to persist run start", "run_id", runID, "error", err)
	}

	d := s.factory()
	s.registry.Register(runID, d)
	defer s.registry.Unregister(runID)

	start := time.Now()
	_, runErr := d.Run(ctx, tasks)
	summary.EndedAt = time.Now()

	if runErr != nil {
		summary.Status = RunStatusFailed
		if re, ok := runErr.(*dispatch.RunError); ok {
			summary.ErrorKind = string(re.Kind)
			if re.Kind == dispatch.ErrCancelled {
				summary.Status = RunStatusCancelled
			}
			summary.ErrorDetail = re.Error()
		} else {
			summary.ErrorDetail = runErr.Error()
		}
		s.runsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule", cfg.Name)))
		slog.Error("scheduled run failed", "name", cfg.Name, "run_id", runID,
			"duration_ms", time.Since(start).Milliseconds(), "error", runErr)
	} else {
		summary.Status = RunStatusSucceeded
		summary.Completed = len(tasks)
		slog.Info("scheduled run completed", "name", cfg.Name, "run_id", runID,
			"duration_ms", time.Since(start).Milliseconds())
	}

	s.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("schedule", cfg.Name)))
	if err := s.store.Put(ctx, summary); err != nil {
		slog.Error("failed to persist run result", "run_id", runID, "error", err)
	}
}

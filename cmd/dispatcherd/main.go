package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	logging "github.com/swarmguard/deltadispatch/internal/core/logging"
	"github.com/swarmguard/deltadispatch/internal/core/otelinit"

	"github.com/swarmguard/deltadispatch/internal/dispatch"
	"github.com/swarmguard/deltadispatch/internal/executors"
	"github.com/swarmguard/deltadispatch/internal/runtime"
)

const service = "dispatcherd"

func main() {
	dryRun := flag.Bool("dry-run", false, "run a task set synchronously from -tasks and exit instead of serving HTTP")
	tasksPath := flag.String("tasks", "", "path to a JSON file of tasks to run (dry-run mode only)")
	flag.Parse()

	logging.Init(service)

	if *dryRun {
		os.Exit(runDryRun(*tasksPath))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)
	meter := otel.GetMeterProvider().Meter(service)

	dbPath := os.Getenv("DELTADISPATCH_RUN_STORE_PATH")
	if dbPath == "" {
		dbPath = "dispatcherd.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Warn("failed to create run store directory", "error", err)
		}
	}
	store, err := runtime.NewRunStore(dbPath, meter)
	if err != nil {
		slog.Error("failed to open run store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry := runtime.NewCancellationRegistry(meter)
	local := executors.NewLocalExecutor(8)
	local.Register("noop", func(ctx context.Context, payload map[string]any) (any, error) {
		return payload, nil
	})

	factory := func() *dispatch.Dispatcher {
		return dispatch.New(dispatch.Options{
			Executor: local,
			Meter:    meter,
		})
	}

	scheduler := runtime.NewScheduler(store, registry, factory, meter)
	scheduler.Start()
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = scheduler.Stop(stopCtx)
	}()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handleSubmitRun(w, r, factory, store, registry)
		case http.MethodGet:
			handleListRuns(w, r, store)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/v1/runs/", func(w http.ResponseWriter, r *http.Request) {
		id, action := splitRunPath(r.URL.Path)
		if id == "" {
			http.NotFound(w, r)
			return
		}
		if action == "cancel" && r.Method == http.MethodPost {
			handleCancelRun(w, r, registry, id)
			return
		}
		if action == "" && r.Method == http.MethodGet {
			handleGetRun(w, r, store, id)
			return
		}
		http.NotFound(w, r)
	})

	if promHandler != nil {
		if h, ok := promHandler.(http.Handler); ok {
			mux.Handle("/metrics", h)
		}
	}

	addr := os.Getenv("DELTADISPATCH_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()
	slog.Info("service started", "addr", addr)

	<-ctx.Done()
	slog.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}

// runDryRun executes one task set synchronously with an in-process
// LocalExecutor and reports the outcome on stdout, playing the role the
// teacher's in-memory main.go execute() path played for the DAG engine.
// Exit codes per spec.md §6: 0 success, 2 partial success with a fatal
// task, 3 cancelled.
func runDryRun(tasksPath string) int {
	if tasksPath == "" {
		fmt.Fprintln(os.Stderr, "dry-run requires -tasks=<path>")
		return 2
	}
	raw, err := os.ReadFile(tasksPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read tasks file: %v\n", err)
		return 2
	}
	var req submitRunRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		fmt.Fprintf(os.Stderr, "parse tasks file: %v\n", err)
		return 2
	}
	tasks := make([]*dispatch.Task, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, &dispatch.Task{
			ID:   t.ID,
			Work: dispatch.WorkDescriptor{Kind: t.Kind, Payload: t.Data},
		})
	}

	local := executors.NewLocalExecutor(8)
	local.Register("noop", func(ctx context.Context, payload map[string]any) (any, error) {
		return payload, nil
	})
	d := dispatch.New(dispatch.Options{Executor: local})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	results, runErr := d.Run(ctx, tasks)
	if runErr == nil {
		_ = json.NewEncoder(os.Stdout).Encode(results)
		return 0
	}

	re, ok := runErr.(*dispatch.RunError)
	if !ok {
		fmt.Fprintf(os.Stderr, "run error: %v\n", runErr)
		return 2
	}
	fmt.Fprintf(os.Stderr, "run error: %s (task %s, attempt %d)\n", re.Kind, re.TaskID, re.Attempts)
	if re.Kind == dispatch.ErrCancelled {
		return 3
	}
	return 2
}

type submitRunRequest struct {
	Tasks []taskPayload `json:"tasks"`
}

type taskPayload struct {
	ID   string         `json:"id"`
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

type submitRunResponse struct {
	RunID string `json:"run_id"`
}

func handleSubmitRun(w http.ResponseWriter, r *http.Request, factory runtime.DispatcherFactory, store *runtime.RunStore, registry *runtime.CancellationRegistry) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(req.Tasks) == 0 {
		http.Error(w, "tasks required", http.StatusBadRequest)
		return
	}
	tasks := make([]*dispatch.Task, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		tasks = append(tasks, &dispatch.Task{
			ID:   t.ID,
			Work: dispatch.WorkDescriptor{Kind: t.Kind, Payload: t.Data},
		})
	}

	runID := uuid.NewString()
	summary := runtime.RunSummary{ID: runID, Status: runtime.RunStatusRunning, TaskCount: len(tasks), StartedAt: time.Now()}
	if err := store.Put(r.Context(), summary); err != nil {
		slog.Error("failed to persist run start", "run_id", runID, "error", err)
	}

	d := factory()
	registry.Register(runID, d)

	go func() {
		defer registry.Unregister(runID)
		bgCtx := context.Background()
		_, runErr := d.Run(bgCtx, tasks)
		summary.EndedAt = time.Now()
		if runErr != nil {
			summary.Status = runtime.RunStatusFailed
			if re, ok := runErr.(*dispatch.RunError); ok {
				summary.ErrorKind = string(re.Kind)
				if re.Kind == dispatch.ErrCancelled {
					summary.Status = runtime.RunStatusCancelled
				}
				summary.ErrorDetail = re.Error()
			} else {
				summary.ErrorDetail = runErr.Error()
			}
		} else {
			summary.Status = runtime.RunStatusSucceeded
			summary.Completed = len(tasks)
		}
		if err := store.Put(bgCtx, summary); err != nil {
			slog.Error("failed to persist run result", "run_id", runID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitRunResponse{RunID: runID})
}

func handleGetRun(w http.ResponseWriter, r *http.Request, store *runtime.RunStore, id string) {
	summary, ok, err := store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(summary)
}

func handleListRuns(w http.ResponseWriter, r *http.Request, store *runtime.RunStore) {
	runs, err := store.List(r.Context(), 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(runs)
}

func handleCancelRun(w http.ResponseWriter, r *http.Request, registry *runtime.CancellationRegistry, id string) {
	if err := registry.Cancel(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// splitRunPath extracts the run ID and optional trailing action
// ("cancel") from a /v1/runs/{id}[/action] path.
func splitRunPath(path string) (id, action string) {
	const prefix = "/v1/runs/"
	if len(path) <= len(prefix) {
		return "", ""
	}
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

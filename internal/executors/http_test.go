package executors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

func TestHTTPExecutorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(nil)
	h, err := exec.Launch(context.Background(), dispatch.WorkDescriptor{Kind: "fetch", Payload: map[string]any{"url": srv.URL, "method": "GET"}}, dispatch.ResourceHints{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := exec.Await(ctx, h)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if outcome.Success == nil {
		t.Fatalf("expected success, got %+v", outcome)
	}
	body, ok := outcome.Success.Value.(map[string]any)
	if !ok || body["ok"] != true {
		t.Fatalf("unexpected response body: %+v", outcome.Success.Value)
	}
}

func TestHTTPExecutorForwardsResourceHints(t *testing.T) {
	var gotMemory, gotCPUs, gotPlacement string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMemory = r.Header.Get("X-Resource-Memory")
		gotCPUs = r.Header.Get("X-Resource-CPUs")
		gotPlacement = r.Header.Get("X-Resource-Placement-Group")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	memory := int64(1 << 20)
	cpus := 2.5
	placement := "zone-a"
	hints := dispatch.ResourceHints{Memory: &memory, CPUs: &cpus, PlacementGroup: &placement}

	exec := NewHTTPExecutor(nil)
	h, err := exec.Launch(context.Background(), dispatch.WorkDescriptor{Kind: "fetch", Payload: map[string]any{"url": srv.URL, "method": "GET"}}, hints)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := exec.Await(ctx, h)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if outcome.Success == nil {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if gotMemory != "1048576" {
		t.Fatalf("X-Resource-Memory = %q, want 1048576", gotMemory)
	}
	if gotCPUs != "2.5" {
		t.Fatalf("X-Resource-CPUs = %q, want 2.5", gotCPUs)
	}
	if gotPlacement != "zone-a" {
		t.Fatalf("X-Resource-Placement-Group = %q, want zone-a", gotPlacement)
	}
}

func TestHTTPExecutorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(nil)
	h, err := exec.Launch(context.Background(), dispatch.WorkDescriptor{Kind: "fetch", Payload: map[string]any{"url": srv.URL, "method": "GET"}}, dispatch.ResourceHints{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := exec.Await(ctx, h)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if outcome.Failure == nil || outcome.Failure.Kind != "ExecutionError" {
		t.Fatalf("expected ExecutionError failure, got %+v", outcome)
	}
}

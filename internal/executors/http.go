package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/deltadispatch/internal/core/resilience"
	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

// HTTPExecutor runs WorkDescriptors whose Payload describes a single
// HTTP request: "url", "method" (default POST), "headers", "body". A
// circuit breaker and rate limiter guard the pooled client the way the
// resilience package is meant to be used around any unreliable
// downstream call.
type HTTPExecutor struct {
	futureTable
	client  *http.Client
	tracer  trace.Tracer
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPExecutor{
		futureTable: newFutureTable(),
		client:      client,
		tracer:      otel.Tracer("deltadispatch-http-executor"),
		breaker:     resilience.NewCircuitBreakerAdaptive(30*time.Second, 10, 10, 0.5, 5*time.Second, 3),
		limiter:     resilience.NewRateLimiter(100, 50, time.Second, 200),
	}
}

func (e *HTTPExecutor) Launch(ctx context.Context, work dispatch.WorkDescriptor, hints dispatch.ResourceHints) (dispatch.Handle, error) {
	h, _, runCtx := e.register(ctx)
	go e.run(runCtx, h, work, hints)
	return h, nil
}

func (e *HTTPExecutor) run(ctx context.Context, h dispatch.Handle, work dispatch.WorkDescriptor, hints dispatch.ResourceHints) {
	ctx, span := e.tracer.Start(ctx, "http_executor.run",
		trace.WithAttributes(attribute.String("kind", work.Kind)))
	defer span.End()

	if !e.limiter.Allow() {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "RateLimited", Err: fmt.Errorf("local rate limit exceeded")}})
		return
	}
	if !e.breaker.Allow() {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "Unavailable", Err: fmt.Errorf("circuit open")}})
		return
	}

	result, err := e.doRequest(ctx, work, hints)
	e.breaker.RecordResult(err == nil)
	if err != nil {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "ExecutionError", Err: err}})
		return
	}
	e.complete(h, dispatch.Outcome{Success: &dispatch.SuccessOutcome{Value: result}})
}

func (e *HTTPExecutor) doRequest(ctx context.Context, work dispatch.WorkDescriptor, hints dispatch.ResourceHints) (map[string]any, error) {
	url, _ := work.Payload["url"].(string)
	method, _ := work.Payload["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if payload, ok := work.Payload["body"]; ok {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := work.Payload["headers"].(map[string]string); ok {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	if hints.Memory != nil {
		req.Header.Set("X-Resource-Memory", strconv.FormatInt(*hints.Memory, 10))
	}
	if hints.CPUs != nil {
		req.Header.Set("X-Resource-CPUs", strconv.FormatFloat(*hints.CPUs, 'f', -1, 64))
	}
	if hints.PlacementGroup != nil {
		req.Header.Set("X-Resource-Placement-Group", *hints.PlacementGroup)
	}
	otel.GetTextMapPropagator().Inject(ctx, &headerCarrier{req.Header})

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &result); err != nil {
			result = map[string]any{"body": string(respBody), "status_code": resp.StatusCode}
		}
	} else {
		result = map[string]any{"status_code": resp.StatusCode}
	}
	return result, nil
}

type headerCarrier struct{ header http.Header }

func (hc *headerCarrier) Get(key string) string { return hc.header.Get(key) }
func (hc *headerCarrier) Set(key, value string)  { hc.header.Set(key, value) }
func (hc *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(hc.header))
	for k := range hc.header {
		keys = append(keys, k)
	}
	return keys
}

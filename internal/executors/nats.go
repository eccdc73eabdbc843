package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/propagation"

	"github.com/swarmguard/deltadispatch/internal/core/resilience"
	"github.com/swarmguard/deltadispatch/internal/dispatch"
)

var natsPropagator = propagation.TraceContext{}

// NATSExecutor runs work by publishing a request on a subject derived
// from WorkDescriptor.Kind and waiting for a reply on a fresh inbox
// subject, injecting W3C trace context into the request headers with its
// own propagator (it does not go through natsctx).
type NATSExecutor struct {
	futureTable
	nc            *nats.Conn
	subjectPrefix string
	timeout       time.Duration
	limiter       *resilience.HybridRateLimiter
}

func NewNATSExecutor(nc *nats.Conn, subjectPrefix string, timeout time.Duration) *NATSExecutor {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &NATSExecutor{
		futureTable:   newFutureTable(),
		nc:            nc,
		subjectPrefix: subjectPrefix,
		timeout:       timeout,
		limiter:       resilience.NewHybridRateLimiter(100, 50, 256, 10*time.Millisecond),
	}
}

func (e *NATSExecutor) Launch(ctx context.Context, work dispatch.WorkDescriptor, hints dispatch.ResourceHints) (dispatch.Handle, error) {
	h, _, runCtx := e.register(ctx)
	go e.run(runCtx, h, work)
	return h, nil
}

func (e *NATSExecutor) run(ctx context.Context, h dispatch.Handle, work dispatch.WorkDescriptor) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	data, err := json.Marshal(work.Payload)
	if err != nil {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "ExecutionError", Err: fmt.Errorf("marshal payload: %w", err)}})
		return
	}

	if err := e.limiter.AllowOrWait(ctx); err != nil {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "RateLimited", Err: err}})
		return
	}

	subject := e.subjectPrefix + "." + work.Kind
	replySubject := nats.NewInbox()
	replyCh := make(chan *nats.Msg, 1)
	sub, err := e.nc.ChanSubscribe(replySubject, replyCh)
	if err != nil {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "Unavailable", Err: err}})
		return
	}
	defer sub.Unsubscribe()

	hdr := nats.Header{}
	natsPropagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subject, Reply: replySubject, Data: data, Header: hdr}
	if err := e.nc.PublishMsg(msg); err != nil {
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "Unavailable", Err: err}})
		return
	}

	select {
	case reply := <-replyCh:
		var result map[string]any
		if err := json.Unmarshal(reply.Data, &result); err != nil {
			e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: "ExecutionError", Err: err}})
			return
		}
		e.complete(h, dispatch.Outcome{Success: &dispatch.SuccessOutcome{Value: result}})
	case <-ctx.Done():
		kind := "Timeout"
		if ctx.Err() == context.Canceled {
			kind = "Cancelled"
		}
		e.complete(h, dispatch.Outcome{Failure: &dispatch.FailureOutcome{Kind: kind, Err: ctx.Err()}})
	}
}

package adapters_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-relay/adapters/gocommand"
	"github.com/goliatone/go-relay/adapters/gojob"
	"github.com/goliatone/go-relay/adapters/gologger"
	relaycommand "github.com/goliatone/go-relay/command"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/inbound"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("relay", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueProbe := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueProbe)
	event := core.EnsurePayloadHash(core.Event{
		CorrelationID: "corr_compat_1",
		EventType:     core.EventTypeCallCompleted,
		Payload:       []byte(`{"call_id":"call_1"}`),
		ReceivedAt:    time.Now().UTC(),
	})
	receipt, err := enqueueAdapter.Enqueue(ctx, gojob.NewDispatchEventMessage(event))
	if err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if receipt.DispatchID == "" {
		t.Fatalf("expected queue receipt to carry a dispatch id")
	}
	if enqueueProbe.last == nil || enqueueProbe.last.JobID != gojob.JobIDDispatchEvent {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}
	if enqueueProbe.last.IdempotencyKey == "" {
		t.Fatalf("expected idempotency key derived from the event identity")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("relay.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_InboundSurfacesDispatchThroughWrappers(t *testing.T) {
	svc := &compatMutatingService{}
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	dispatchSub, err := gocommand.RegisterAndSubscribe(adapter, relaycommand.NewDispatchEventCommand(svc))
	if err != nil {
		t.Fatalf("register dispatch wrapper: %v", err)
	}
	defer dispatchSub.Unsubscribe()

	retrySub, err := gocommand.RegisterAndSubscribe(adapter, relaycommand.NewRetryDeadLetterCommand(svc))
	if err != nil {
		t.Fatalf("register retry wrapper: %v", err)
	}
	defer retrySub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	dispatcher := inbound.NewDispatcher(nil, inbound.NewInMemoryClaimStore())
	eventHandler := &dispatchingInboundHandler{
		surface: inbound.SurfaceEvent,
		run: func(ctx context.Context, req core.InboundRequest) error {
			event, err := inbound.EventFromRequest(req, time.Now().UTC())
			if err != nil {
				return err
			}
			return gocommand.Dispatch(ctx, relaycommand.DispatchEventMessage{Event: event})
		},
	}
	operatorHandler := &dispatchingInboundHandler{
		surface: inbound.SurfaceOperator,
		run: func(ctx context.Context, req core.InboundRequest) error {
			return gocommand.Dispatch(ctx, relaycommand.RetryDeadLetterMessage{
				ID: metadataString(req.Metadata, "dead_letter_id"),
			})
		},
	}
	if err := dispatcher.Register(eventHandler); err != nil {
		t.Fatalf("register event inbound handler: %v", err)
	}
	if err := dispatcher.Register(operatorHandler); err != nil {
		t.Fatalf("register operator inbound handler: %v", err)
	}

	eventResult, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{
		SourceID: "voiceai",
		Surface:  inbound.SurfaceEvent,
		Body:     []byte(`{"call_id":"call_1","duration":42}`),
		Metadata: map[string]any{
			"idempotency_key": "evt-1",
			"event_type":      core.EventTypeCallCompleted,
			"correlation_id":  "corr_compat_2",
		},
	})
	if err != nil {
		t.Fatalf("dispatch event inbound request: %v", err)
	}
	if !eventResult.Accepted {
		t.Fatalf("expected event inbound request accepted")
	}
	if svc.dispatchCalls != 1 || svc.lastCorrelationID != "corr_compat_2" {
		t.Fatalf("expected dispatch wrapper invocation through inbound dispatch")
	}

	operatorResult, err := dispatcher.Dispatch(context.Background(), core.InboundRequest{
		SourceID: "ops-console",
		Surface:  inbound.SurfaceOperator,
		Metadata: map[string]any{
			"idempotency_key": "op-1",
			"dead_letter_id":  "dl_9",
		},
	})
	if err != nil {
		t.Fatalf("dispatch operator inbound request: %v", err)
	}
	if !operatorResult.Accepted {
		t.Fatalf("expected operator inbound request accepted")
	}
	if svc.retryCalls != 1 || svc.lastDeadLetterID != "dl_9" {
		t.Fatalf("expected retry wrapper invocation through inbound dispatch")
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "relay.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	e.last = msg
	return queue.EnqueueReceipt{DispatchID: "dispatch_compat_1", EnqueuedAt: time.Now().UTC()}, nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type dispatchingInboundHandler struct {
	surface string
	run     func(ctx context.Context, req core.InboundRequest) error
}

func (h *dispatchingInboundHandler) Surface() string {
	return h.surface
}

func (h *dispatchingInboundHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.run == nil {
		return core.InboundResult{}, fmt.Errorf("handler is not configured")
	}
	if err := h.run(ctx, req); err != nil {
		return core.InboundResult{Accepted: false, StatusCode: 500}, err
	}
	return core.InboundResult{Accepted: true, StatusCode: 202}, nil
}

type compatMutatingService struct {
	dispatchCalls     int
	lastCorrelationID string
	retryCalls        int
	lastDeadLetterID  string
}

func (s *compatMutatingService) Dispatch(_ context.Context, event core.Event) (core.DispatchOutcome, error) {
	s.dispatchCalls++
	s.lastCorrelationID = event.CorrelationID
	return core.DispatchOutcome{Status: core.DispatchApplied, CorrelationID: event.CorrelationID}, nil
}

func (s *compatMutatingService) RetryDeadLetter(_ context.Context, id string) (core.DispatchOutcome, error) {
	s.retryCalls++
	s.lastDeadLetterID = id
	return core.DispatchOutcome{Status: core.DispatchApplied}, nil
}

func (s *compatMutatingService) ResolveDeadLetter(context.Context, string) error {
	return nil
}

func (s *compatMutatingService) ResurrectDeadLetter(context.Context, string) (core.DeadLetterEntry, error) {
	return core.DeadLetterEntry{}, nil
}

func (s *compatMutatingService) RunPendingDeadLetters(context.Context, int) (core.DispatchStats, error) {
	return core.DispatchStats{}, nil
}

func (s *compatMutatingService) TripBreaker(context.Context, string) (core.BreakerState, error) {
	return core.BreakerState{}, nil
}

func (s *compatMutatingService) ResetBreaker(context.Context, string) (core.BreakerState, error) {
	return core.BreakerState{}, nil
}

func metadataString(metadata map[string]any, key string) string {
	if len(metadata) == 0 {
		return ""
	}
	raw, ok := metadata[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

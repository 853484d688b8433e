package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestServiceDispatch_AppliesEvent(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 200, Metadata: map[string]any{"record_id": "crm_record_9"}}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchApplied {
		t.Fatalf("expected applied, got %q", outcome.Status)
	}
	if outcome.TargetRecordID != "crm_record_9" {
		t.Fatalf("expected target record id, got %q", outcome.TargetRecordID)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", outcome.Attempts)
	}

	req := transport.last[0]
	if req.BearerToken == "" {
		t.Fatalf("expected bearer token on outbound request")
	}
	if req.CorrelationID != "corr_1" {
		t.Fatalf("expected correlation id propagated, got %q", req.CorrelationID)
	}
}

func TestServiceDispatch_GeneratesMissingCorrelationID(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	event := testEvent("")
	outcome, err := svc.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.CorrelationID == "" {
		t.Fatalf("expected generated correlation id")
	}
	if transport.last[0].CorrelationID != outcome.CorrelationID {
		t.Fatalf("generated correlation id not propagated to transport")
	}
}

func TestServiceDispatch_DuplicateIsAlreadyApplied(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	event := testEvent("corr_1")
	if _, err := svc.Dispatch(ctx, event); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	outcome, err := svc.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("duplicate dispatch: %v", err)
	}
	if outcome.Status != DispatchAlreadyApplied {
		t.Fatalf("expected already applied, got %q", outcome.Status)
	}
	if transport.callCount() != 1 {
		t.Fatalf("duplicate must not reach the consumer, calls=%d", transport.callCount())
	}
}

func TestServiceDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 200}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchApplied {
		t.Fatalf("expected applied after retry, got %q", outcome.Status)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("expected two attempts, got %d", outcome.Attempts)
	}
}

func TestServiceDispatch_ExhaustedRetriesDeadLetter(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 503}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchDeadLettered {
		t.Fatalf("expected dead lettered, got %q", outcome.Status)
	}
	if outcome.ErrorType != ErrorTypeNetwork {
		t.Fatalf("expected network error type, got %q", outcome.ErrorType)
	}
	if transport.callCount() != defaultRetryMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultRetryMaxAttempts, transport.callCount())
	}

	entries, err := svc.ListDeadLetters(ctx, DeadLetterFilter{Status: DeadLetterStatusPending})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter, got %d", len(entries))
	}
	if entries[0].Event.CorrelationID != "corr_1" {
		t.Fatalf("dead letter lost the original event")
	}
}

func TestServiceDispatch_NonRetryable4xxDeadLettersDirectly(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 422, Body: []byte(`{"error":"missing field"}`)}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchDeadLettered {
		t.Fatalf("expected dead lettered, got %q", outcome.Status)
	}
	if outcome.ErrorType != ErrorTypeClient {
		t.Fatalf("expected client error type, got %q", outcome.ErrorType)
	}
	if transport.callCount() != 1 {
		t.Fatalf("client rejections must not retry, calls=%d", transport.callCount())
	}

	entries, err := svc.ListDeadLetters(ctx, DeadLetterFilter{Status: DeadLetterStatusFailed})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one parked dead letter, got %d", len(entries))
	}
}

func TestServiceDispatch_RateLimit429IsTransient(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 429}},
		{response: ConsumerResponse{StatusCode: 200}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchApplied || outcome.Attempts != 2 {
		t.Fatalf("expected applied on second attempt, got %+v", outcome)
	}
}

func TestServiceDispatch_OpenBreakerShortCircuits(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	if _, err := svc.TripBreaker(ctx, testEndpoint().Key); err != nil {
		t.Fatalf("trip breaker: %v", err)
	}

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchDeadLettered {
		t.Fatalf("expected dead lettered, got %q", outcome.Status)
	}
	if outcome.ErrorType != ErrorTypeCircuitOpen {
		t.Fatalf("expected circuit open error type, got %q", outcome.ErrorType)
	}
	if transport.callCount() != 0 {
		t.Fatalf("open breaker must prevent transport calls, calls=%d", transport.callCount())
	}

	state, err := svc.GetBreakerState(ctx, testEndpoint().Key)
	if err != nil {
		t.Fatalf("breaker state: %v", err)
	}
	if state.Phase != BreakerOpen {
		t.Fatalf("expected breaker still open, got %q", state.Phase)
	}
}

func TestServiceDispatch_AuthFailureDeadLettersWithoutTransportCall(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	minter := newCountingMinter("tok", 0)
	minter.errs = []error{fmt.Errorf("issuer unavailable")}
	svc := newTestService(t, transport, WithTokenMinter(minter))

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchDeadLettered {
		t.Fatalf("expected dead lettered, got %q", outcome.Status)
	}
	if outcome.ErrorType != ErrorTypeAuth {
		t.Fatalf("expected auth error type, got %q", outcome.ErrorType)
	}
	if transport.callCount() != 0 {
		t.Fatalf("auth failure must prevent transport calls, calls=%d", transport.callCount())
	}
}

func TestServiceDispatch_TamperedPayloadRejected(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	event := testEvent("corr_1")
	if _, err := svc.Dispatch(ctx, event); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	tampered := event
	tampered.Payload = []byte(`{"call_id":"call_1","duration_sec":9999}`)
	tampered.PayloadHash = ""

	outcome, err := svc.Dispatch(ctx, tampered)
	if err != nil {
		t.Fatalf("tampered dispatch: %v", err)
	}
	if outcome.Status != DispatchRejected {
		t.Fatalf("expected rejected, got %q", outcome.Status)
	}
	if outcome.ErrorType != ErrorTypeHashMismatch {
		t.Fatalf("expected hash mismatch error type, got %q", outcome.ErrorType)
	}
	if transport.callCount() != 1 {
		t.Fatalf("tampered payload must not reach the consumer, calls=%d", transport.callCount())
	}

	entries, err := svc.ListDeadLetters(ctx, DeadLetterFilter{ErrorType: ErrorTypeHashMismatch})
	if err != nil {
		t.Fatalf("list dead letters: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != DeadLetterStatusFailed {
		t.Fatalf("expected tampered event parked for review, got %+v", entries)
	}
}

func TestServiceDispatch_InvalidEventRejected(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, Event{CorrelationID: "corr_1"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if outcome.Status != DispatchRejected {
		t.Fatalf("expected rejected, got %q", outcome.Status)
	}
	if transport.callCount() != 0 {
		t.Fatalf("invalid event must not reach the consumer")
	}
}

func TestServiceDispatch_ConcurrentDuplicatesSingleConsumerWrite(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	event := testEvent("corr_1")
	const racers = 20
	var wg sync.WaitGroup
	outcomes := make([]DispatchOutcome, racers)
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.Dispatch(ctx, event)
		}(i)
	}
	wg.Wait()

	if transport.callCount() != 1 {
		t.Fatalf("expected exactly one consumer write, got %d", transport.callCount())
	}
	applied := 0
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d: %v", i, errs[i])
		}
		switch outcomes[i].Status {
		case DispatchApplied:
			applied++
		case DispatchAlreadyApplied:
		default:
			t.Fatalf("racer %d: unexpected outcome %q", i, outcomes[i].Status)
		}
	}
	if applied != 1 {
		t.Fatalf("expected one applied outcome, got %d", applied)
	}
}

func TestServiceRunPendingDeadLetters_FullCycle(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 200, Metadata: map[string]any{"record_id": "crm_record_9"}}},
	}}
	svc := newTestService(t, transport)

	outcome, err := svc.Dispatch(ctx, testEvent("corr_1"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if outcome.Status != DispatchDeadLettered {
		t.Fatalf("expected dead lettered, got %q", outcome.Status)
	}

	stats, err := svc.RunPendingDeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("run pending: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	resolved, err := svc.ListDeadLetters(ctx, DeadLetterFilter{Status: DeadLetterStatusResolved})
	if err != nil {
		t.Fatalf("list resolved: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected resolved dead letter, got %d", len(resolved))
	}
}

func TestServiceRetryDeadLetter_ResolvesOnSuccess(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 503}},
		{response: ConsumerResponse{StatusCode: 200}},
	}}
	svc := newTestService(t, transport)

	if _, err := svc.Dispatch(ctx, testEvent("corr_1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	entries, err := svc.ListDeadLetters(ctx, DeadLetterFilter{Status: DeadLetterStatusPending})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one pending entry, got %d (%v)", len(entries), err)
	}

	outcome, err := svc.RetryDeadLetter(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("retry dead letter: %v", err)
	}
	if outcome.Status != DispatchApplied {
		t.Fatalf("expected applied, got %q", outcome.Status)
	}

	entry, err := svc.DeadLetters().Get(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Status != DeadLetterStatusResolved {
		t.Fatalf("expected resolved entry, got %q", entry.Status)
	}
}

func TestServiceResolveDeadLetter_ClosesEntry(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{queue: []scriptedCall{
		{response: ConsumerResponse{StatusCode: 422}},
	}}
	svc := newTestService(t, transport)

	if _, err := svc.Dispatch(ctx, testEvent("corr_1")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	entries, err := svc.ListDeadLetters(ctx, DeadLetterFilter{})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}

	if err := svc.ResolveDeadLetter(ctx, entries[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	entry, err := svc.DeadLetters().Get(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != DeadLetterStatusResolved {
		t.Fatalf("expected resolved, got %q", entry.Status)
	}
}

type queueEventSource struct {
	mu     sync.Mutex
	events []Event
}

func (s *queueEventSource) ReceiveEvent(ctx context.Context) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return Event{}, context.Canceled
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func TestServiceConsume_DrainsSource(t *testing.T) {
	ctx := context.Background()
	transport := &scriptedTransport{}
	svc := newTestService(t, transport)

	source := &queueEventSource{events: []Event{
		testEvent("corr_1"),
		testEvent("corr_2"),
	}}
	if err := svc.Consume(ctx, source); err != context.Canceled {
		t.Fatalf("expected source exhaustion to surface as cancellation, got %v", err)
	}
	if transport.callCount() != 2 {
		t.Fatalf("expected both events delivered, got %d calls", transport.callCount())
	}
}

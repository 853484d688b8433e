package core

import (
	"context"
	"testing"
)

func TestCorrelationContext_RoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr_1")
	if got := CorrelationIDFromContext(ctx); got != "corr_1" {
		t.Fatalf("expected corr_1, got %q", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty id on bare context, got %q", got)
	}
}

func TestEnsureCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	ctx, event := EnsureCorrelationID(context.Background(), Event{EventType: EventTypeCallStarted})
	if event.CorrelationID == "" {
		t.Fatalf("expected generated correlation id")
	}
	if got := CorrelationIDFromContext(ctx); got != event.CorrelationID {
		t.Fatalf("context id %q does not match event id %q", got, event.CorrelationID)
	}
}

func TestEnsureCorrelationID_PrefersEventValue(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "ctx_id")
	ctx, event := EnsureCorrelationID(ctx, Event{CorrelationID: "event_id"})
	if event.CorrelationID != "event_id" {
		t.Fatalf("expected event id to win, got %q", event.CorrelationID)
	}
	if got := CorrelationIDFromContext(ctx); got != "event_id" {
		t.Fatalf("expected context updated to event id, got %q", got)
	}
}

func TestEnsureCorrelationID_InheritsFromContext(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "ctx_id")
	_, event := EnsureCorrelationID(ctx, Event{EventType: EventTypeCallStarted})
	if event.CorrelationID != "ctx_id" {
		t.Fatalf("expected context id inherited, got %q", event.CorrelationID)
	}
}

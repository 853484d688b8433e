package inbound

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

// EventDispatcher is the slice of the relay service the event surface needs.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchOutcome, error)
}

// EventHandler turns a producer delivery on the event surface into a
// pipeline event. Typed dispatch outcomes ack the delivery so the producer
// stops redelivering; only infrastructure errors bubble, which releases the
// inbound claim for the producer's next attempt.
type EventHandler struct {
	dispatcher EventDispatcher
	Now        func() time.Time
}

func NewEventHandler(dispatcher EventDispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

func (h *EventHandler) Surface() string { return SurfaceEvent }

func (h *EventHandler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.dispatcher == nil {
		return core.InboundResult{}, inboundInternal("inbound: event dispatcher is required", nil)
	}

	event, err := EventFromRequest(req, h.now())
	if err != nil {
		return core.InboundResult{}, err
	}

	outcome, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		return core.InboundResult{}, err
	}

	result := core.InboundResult{
		Accepted: true,
		Metadata: map[string]any{
			"correlation_id": outcome.CorrelationID,
			"status":         string(outcome.Status),
		},
	}
	switch outcome.Status {
	case core.DispatchApplied, core.DispatchDeadLettered:
		result.StatusCode = http.StatusAccepted
	case core.DispatchAlreadyApplied:
		result.StatusCode = http.StatusOK
	default:
		// Rejected is terminal for the producer too: redelivering the same
		// payload can never change the verdict.
		result.StatusCode = http.StatusUnprocessableEntity
	}
	if outcome.TargetRecordID != "" {
		result.Metadata["target_record_id"] = outcome.TargetRecordID
	}
	return result, nil
}

// EventFromRequest maps a raw delivery to a pipeline event. The event type
// comes from metadata or the X-Event-Type header; the correlation id follows
// the same precedence the dedup key uses.
func EventFromRequest(req core.InboundRequest, receivedAt time.Time) (core.Event, error) {
	eventType := trimAny(req.Metadata["event_type"])
	if eventType == "" {
		eventType = headerValue(req.Headers, "x-event-type")
	}
	correlationID := trimAny(req.Metadata["correlation_id"])
	if correlationID == "" {
		correlationID = headerValue(req.Headers, "x-correlation-id")
	}

	event := core.Event{
		CorrelationID: correlationID,
		EventType:     strings.TrimSpace(eventType),
		Payload:       req.Body,
		ReceivedAt:    receivedAt,
		Metadata: map[string]any{
			"source_id": strings.TrimSpace(req.SourceID),
			"surface":   SurfaceEvent,
		},
	}
	if err := event.Validate(); err != nil {
		// A malformed delivery is the producer's bug, not a transient
		// failure; surface it as bad input so it is not redelivered.
		return core.Event{}, inboundWrapError(
			err,
			goerrors.CategoryBadInput,
			"inbound: delivery does not describe a valid event",
			http.StatusBadRequest,
			core.RelayErrorBadInput,
			map[string]any{"source_id": strings.TrimSpace(req.SourceID)},
		)
	}
	return core.EnsurePayloadHash(event), nil
}

func (h *EventHandler) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

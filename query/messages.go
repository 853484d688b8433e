package query

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeGetBreakerState  = "relay.query.breaker.state"
	TypeListDeadLetters  = "relay.query.dead_letter.list"
	TypeGetDeadLetter    = "relay.query.dead_letter.get"
	TypeCheckIdempotency = "relay.query.idempotency.check"
)

type GetBreakerStateMessage struct {
	EndpointKey string
}

func (GetBreakerStateMessage) Type() string { return TypeGetBreakerState }

func (m GetBreakerStateMessage) Validate() error {
	if strings.TrimSpace(m.EndpointKey) == "" {
		return queryValidationError("endpoint_key", "endpoint key is required")
	}
	return nil
}

type ListDeadLettersMessage struct {
	Filter core.DeadLetterFilter
}

func (ListDeadLettersMessage) Type() string { return TypeListDeadLetters }

func (m ListDeadLettersMessage) Validate() error {
	if m.Filter.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type GetDeadLetterMessage struct {
	ID string
}

func (GetDeadLetterMessage) Type() string { return TypeGetDeadLetter }

func (m GetDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return queryValidationError("id", "dead letter id is required")
	}
	return nil
}

type CheckIdempotencyMessage struct {
	CorrelationID string
	EventType     string
}

func (CheckIdempotencyMessage) Type() string { return TypeCheckIdempotency }

func (m CheckIdempotencyMessage) Validate() error {
	if strings.TrimSpace(m.CorrelationID) == "" {
		return queryValidationError("correlation_id", "correlation id is required")
	}
	if strings.TrimSpace(m.EventType) == "" {
		return queryValidationError("event_type", "event type is required")
	}
	return nil
}

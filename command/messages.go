package command

import (
	"strings"

	"github.com/goliatone/go-relay/core"
)

const (
	TypeDispatchEvent         = "relay.command.event.dispatch"
	TypeRetryDeadLetter       = "relay.command.dead_letter.retry"
	TypeResolveDeadLetter     = "relay.command.dead_letter.resolve"
	TypeResurrectDeadLetter   = "relay.command.dead_letter.resurrect"
	TypeRunPendingDeadLetters = "relay.command.dead_letter.run_pending"
	TypeTripBreaker           = "relay.command.breaker.trip"
	TypeResetBreaker          = "relay.command.breaker.reset"
)

type DispatchEventMessage struct {
	Event core.Event
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	return commandWrapValidation(m.Event.Validate(), "command: event is invalid")
}

type RetryDeadLetterMessage struct {
	ID string
}

func (RetryDeadLetterMessage) Type() string { return TypeRetryDeadLetter }

func (m RetryDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return commandValidationError("id", "dead letter id is required")
	}
	return nil
}

type ResolveDeadLetterMessage struct {
	ID string
}

func (ResolveDeadLetterMessage) Type() string { return TypeResolveDeadLetter }

func (m ResolveDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return commandValidationError("id", "dead letter id is required")
	}
	return nil
}

type ResurrectDeadLetterMessage struct {
	ID string
}

func (ResurrectDeadLetterMessage) Type() string { return TypeResurrectDeadLetter }

func (m ResurrectDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return commandValidationError("id", "dead letter id is required")
	}
	return nil
}

type RunPendingDeadLettersMessage struct {
	Limit int
}

func (RunPendingDeadLettersMessage) Type() string { return TypeRunPendingDeadLetters }

func (m RunPendingDeadLettersMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must be >= 0")
	}
	return nil
}

type TripBreakerMessage struct {
	EndpointKey string
}

func (TripBreakerMessage) Type() string { return TypeTripBreaker }

func (m TripBreakerMessage) Validate() error {
	if strings.TrimSpace(m.EndpointKey) == "" {
		return commandValidationError("endpoint_key", "endpoint key is required")
	}
	return nil
}

type ResetBreakerMessage struct {
	EndpointKey string
}

func (ResetBreakerMessage) Type() string { return TypeResetBreaker }

func (m ResetBreakerMessage) Validate() error {
	if strings.TrimSpace(m.EndpointKey) == "" {
		return commandValidationError("endpoint_key", "endpoint key is required")
	}
	return nil
}

package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-relay/core"
)

type MutatingService interface {
	Dispatch(ctx context.Context, event core.Event) (core.DispatchOutcome, error)
	RetryDeadLetter(ctx context.Context, id string) (core.DispatchOutcome, error)
	ResolveDeadLetter(ctx context.Context, id string) error
	ResurrectDeadLetter(ctx context.Context, id string) (core.DeadLetterEntry, error)
	RunPendingDeadLetters(ctx context.Context, limit int) (core.DispatchStats, error)
	TripBreaker(ctx context.Context, endpointKey string) (core.BreakerState, error)
	ResetBreaker(ctx context.Context, endpointKey string) (core.BreakerState, error)
}

type DispatchEventCommand struct {
	service MutatingService
}

func NewDispatchEventCommand(service MutatingService) *DispatchEventCommand {
	return &DispatchEventCommand{service: service}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	out, err := c.service.Dispatch(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryDeadLetterCommand struct {
	service MutatingService
}

func NewRetryDeadLetterCommand(service MutatingService) *RetryDeadLetterCommand {
	return &RetryDeadLetterCommand{service: service}
}

func (c *RetryDeadLetterCommand) Execute(ctx context.Context, msg RetryDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	out, err := c.service.RetryDeadLetter(ctx, msg.ID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResolveDeadLetterCommand struct {
	service MutatingService
}

func NewResolveDeadLetterCommand(service MutatingService) *ResolveDeadLetterCommand {
	return &ResolveDeadLetterCommand{service: service}
}

func (c *ResolveDeadLetterCommand) Execute(ctx context.Context, msg ResolveDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	return c.service.ResolveDeadLetter(ctx, msg.ID)
}

type ResurrectDeadLetterCommand struct {
	service MutatingService
}

func NewResurrectDeadLetterCommand(service MutatingService) *ResurrectDeadLetterCommand {
	return &ResurrectDeadLetterCommand{service: service}
}

func (c *ResurrectDeadLetterCommand) Execute(ctx context.Context, msg ResurrectDeadLetterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	out, err := c.service.ResurrectDeadLetter(ctx, msg.ID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RunPendingDeadLettersCommand struct {
	service MutatingService
}

func NewRunPendingDeadLettersCommand(service MutatingService) *RunPendingDeadLettersCommand {
	return &RunPendingDeadLettersCommand{service: service}
}

func (c *RunPendingDeadLettersCommand) Execute(ctx context.Context, msg RunPendingDeadLettersMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dead letter service is required")
	}
	out, err := c.service.RunPendingDeadLetters(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type TripBreakerCommand struct {
	service MutatingService
}

func NewTripBreakerCommand(service MutatingService) *TripBreakerCommand {
	return &TripBreakerCommand{service: service}
}

func (c *TripBreakerCommand) Execute(ctx context.Context, msg TripBreakerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: breaker service is required")
	}
	out, err := c.service.TripBreaker(ctx, msg.EndpointKey)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResetBreakerCommand struct {
	service MutatingService
}

func NewResetBreakerCommand(service MutatingService) *ResetBreakerCommand {
	return &ResetBreakerCommand{service: service}
}

func (c *ResetBreakerCommand) Execute(ctx context.Context, msg ResetBreakerMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: breaker service is required")
	}
	out, err := c.service.ResetBreaker(ctx, msg.EndpointKey)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

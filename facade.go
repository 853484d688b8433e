package relay

import (
	"fmt"

	relaycommand "github.com/goliatone/go-relay/command"
	relayquery "github.com/goliatone/go-relay/query"
)

// CommandQueryService is the full surface the facade wraps: every mutation
// the pipeline supports plus the read side used by operator tooling.
type CommandQueryService interface {
	relaycommand.MutatingService
	relayquery.BreakerStateReader
	relayquery.DeadLetterReader
	relayquery.IdempotencyReader
}

type Commands struct {
	DispatchEvent         *relaycommand.DispatchEventCommand
	RetryDeadLetter       *relaycommand.RetryDeadLetterCommand
	ResolveDeadLetter     *relaycommand.ResolveDeadLetterCommand
	ResurrectDeadLetter   *relaycommand.ResurrectDeadLetterCommand
	RunPendingDeadLetters *relaycommand.RunPendingDeadLettersCommand
	TripBreaker           *relaycommand.TripBreakerCommand
	ResetBreaker          *relaycommand.ResetBreakerCommand
}

type Queries struct {
	GetBreakerState  *relayquery.GetBreakerStateQuery
	ListDeadLetters  *relayquery.ListDeadLettersQuery
	GetDeadLetter    *relayquery.GetDeadLetterQuery
	CheckIdempotency *relayquery.CheckIdempotencyQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	deadLetterReader relayquery.DeadLetterReader
}

// WithDeadLetterReader routes dead-letter queries to a dedicated reader, for
// deployments that serve operator reads from a replica.
func WithDeadLetterReader(reader relayquery.DeadLetterReader) FacadeOption {
	return func(options *facadeOptions) {
		options.deadLetterReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	deadLetterReader := cfg.deadLetterReader
	if deadLetterReader == nil {
		deadLetterReader = service
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		DispatchEvent:         relaycommand.NewDispatchEventCommand(service),
		RetryDeadLetter:       relaycommand.NewRetryDeadLetterCommand(service),
		ResolveDeadLetter:     relaycommand.NewResolveDeadLetterCommand(service),
		ResurrectDeadLetter:   relaycommand.NewResurrectDeadLetterCommand(service),
		RunPendingDeadLetters: relaycommand.NewRunPendingDeadLettersCommand(service),
		TripBreaker:           relaycommand.NewTripBreakerCommand(service),
		ResetBreaker:          relaycommand.NewResetBreakerCommand(service),
	}
	facade.queries = Queries{
		GetBreakerState:  relayquery.NewGetBreakerStateQuery(service),
		ListDeadLetters:  relayquery.NewListDeadLettersQuery(deadLetterReader),
		GetDeadLetter:    relayquery.NewGetDeadLetterQuery(deadLetterReader),
		CheckIdempotency: relayquery.NewCheckIdempotencyQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

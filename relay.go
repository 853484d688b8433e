package relay

import "github.com/goliatone/go-relay/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type TokenMinter = core.TokenMinter
type ConsumerTransport = core.ConsumerTransport
type EndpointResolver = core.EndpointResolver
type BreakerStateStore = core.BreakerStateStore
type IdempotencyRecordStore = core.IdempotencyRecordStore
type DeadLetterStore = core.DeadLetterStore
type AlertSink = core.AlertSink
type BackoffScheduler = core.BackoffScheduler

type Event = core.Event
type Endpoint = core.Endpoint

type DispatchOutcome = core.DispatchOutcome
type DispatchStats = core.DispatchStats

type BreakerState = core.BreakerState
type IdempotencyRecord = core.IdempotencyRecord
type DeadLetterEntry = core.DeadLetterEntry
type DeadLetterFilter = core.DeadLetterFilter

var (
	WithLogger                 = core.WithLogger
	WithLoggerProvider         = core.WithLoggerProvider
	WithMetricsRecorder        = core.WithMetricsRecorder
	WithErrorFactory           = core.WithErrorFactory
	WithErrorMapper            = core.WithErrorMapper
	WithConfigProvider         = core.WithConfigProvider
	WithOptionsResolver        = core.WithOptionsResolver
	WithTokenMinter            = core.WithTokenMinter
	WithTransport              = core.WithTransport
	WithEndpointResolver       = core.WithEndpointResolver
	WithBreakerStateStore      = core.WithBreakerStateStore
	WithIdempotencyRecordStore = core.WithIdempotencyRecordStore
	WithDeadLetterStore        = core.WithDeadLetterStore
	WithAlertSink              = core.WithAlertSink
	WithBackoffScheduler       = core.WithBackoffScheduler
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

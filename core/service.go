package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service wires the resilience pipeline: cached token auth, per-endpoint
// circuit breaking, idempotent apply, bounded retry, and the dead letter
// queue. Construction follows the functional-option builder; anything not
// supplied falls back to the in-memory implementations.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	tokenCache       *TokenCache
	breaker          *CircuitBreaker
	guard            *IdempotencyGuard
	deadLetters      *DeadLetterQueue
	transport        ConsumerTransport
	endpointResolver EndpointResolver
	breakerStore     BreakerStateStore
	idempotencyStore IdempotencyRecordStore
	deadLetterStore  DeadLetterStore
	backoff          BackoffScheduler
	Now              func() time.Time
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	Transport        ConsumerTransport
	EndpointResolver EndpointResolver
	BreakerStore     BreakerStateStore
	IdempotencyStore IdempotencyRecordStore
	DeadLetterStore  DeadLetterStore
	Backoff          BackoffScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("relay", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("relay"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.tokenMinter == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token minter is required"))
	}
	if builder.transport == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: consumer transport is required"))
	}
	if builder.endpointResolver == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: endpoint resolver is required"))
	}

	if builder.breakerStore == nil {
		builder.breakerStore = NewMemoryBreakerStateStore()
	}
	if builder.idempotencyStore == nil {
		builder.idempotencyStore = NewMemoryIdempotencyRecordStore()
	}
	if builder.deadLetterStore == nil {
		builder.deadLetterStore = NewMemoryDeadLetterStore()
	}
	if builder.backoff == nil {
		builder.backoff = ExponentialBackoffScheduler{
			Initial: time.Duration(finalConfig.Retry.InitialBackoffMS) * time.Millisecond,
			Max:     time.Duration(finalConfig.Retry.MaxBackoffMS) * time.Millisecond,
			Jitter:  finalConfig.Retry.JitterRatio,
		}
	}

	tokenCache, err := NewTokenCache(builder.tokenMinter, TokenCacheConfig{
		SafetyBuffer: time.Duration(finalConfig.Token.SafetyBufferSeconds) * time.Second,
		MintTimeout:  time.Duration(finalConfig.Token.MintTimeoutSeconds) * time.Second,
		Metrics:      builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	breaker, err := NewCircuitBreaker(builder.breakerStore, CircuitBreakerConfig{
		Threshold: finalConfig.Breaker.Threshold,
		Cooldown:  time.Duration(finalConfig.Breaker.CooldownSeconds) * time.Second,
		Metrics:   builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	guard, err := NewIdempotencyGuard(builder.idempotencyStore, IdempotencyGuardConfig{
		Metrics: builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	deadLetters, err := NewDeadLetterQueue(builder.deadLetterStore, DeadLetterQueueConfig{
		RetryBudget:    finalConfig.DeadLetter.RetryBudget,
		AlertThreshold: finalConfig.DeadLetter.AlertThreshold,
		AlertWindow:    time.Duration(finalConfig.DeadLetter.AlertWindowHours) * time.Hour,
		Backoff:        builder.backoff,
		AlertSink:      builder.alertSink,
		Metrics:        builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:           finalConfig,
		logger:           logger,
		loggerProvider:   provider,
		metricsRecorder:  builder.metricsRecorder,
		errorFactory:     builder.errorFactory,
		errorMapper:      builder.errorMapper,
		configProvider:   builder.configProvider,
		optionsResolver:  builder.optionsResolver,
		tokenCache:       tokenCache,
		breaker:          breaker,
		guard:            guard,
		deadLetters:      deadLetters,
		transport:        builder.transport,
		endpointResolver: builder.endpointResolver,
		breakerStore:     builder.breakerStore,
		idempotencyStore: builder.idempotencyStore,
		deadLetterStore:  builder.deadLetterStore,
		backoff:          builder.backoff,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		Transport:        s.transport,
		EndpointResolver: s.endpointResolver,
		BreakerStore:     s.breakerStore,
		IdempotencyStore: s.idempotencyStore,
		DeadLetterStore:  s.deadLetterStore,
		Backoff:          s.backoff,
	}
}

// TokenCache exposes the credential cache for operator tooling and tests.
func (s *Service) TokenCache() *TokenCache {
	if s == nil {
		return nil
	}
	return s.tokenCache
}

// Breaker exposes the circuit breaker for operator tooling.
func (s *Service) Breaker() *CircuitBreaker {
	if s == nil {
		return nil
	}
	return s.breaker
}

// DeadLetters exposes the dead letter queue for operator tooling.
func (s *Service) DeadLetters() *DeadLetterQueue {
	if s == nil {
		return nil
	}
	return s.deadLetters
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

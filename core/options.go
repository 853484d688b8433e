package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig    Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	tokenMinter      TokenMinter
	transport        ConsumerTransport
	endpointResolver EndpointResolver
	breakerStore     BreakerStateStore
	idempotencyStore IdempotencyRecordStore
	deadLetterStore  DeadLetterStore
	alertSink        AlertSink
	backoff          BackoffScheduler
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithTokenMinter(minter TokenMinter) Option {
	return func(b *serviceBuilder) {
		b.tokenMinter = minter
	}
}

func WithTransport(transport ConsumerTransport) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

func WithEndpointResolver(resolver EndpointResolver) Option {
	return func(b *serviceBuilder) {
		b.endpointResolver = resolver
	}
}

func WithBreakerStateStore(store BreakerStateStore) Option {
	return func(b *serviceBuilder) {
		b.breakerStore = store
	}
}

func WithIdempotencyRecordStore(store IdempotencyRecordStore) Option {
	return func(b *serviceBuilder) {
		b.idempotencyStore = store
	}
}

func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(b *serviceBuilder) {
		b.deadLetterStore = store
	}
}

func WithAlertSink(sink AlertSink) Option {
	return func(b *serviceBuilder) {
		b.alertSink = sink
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *serviceBuilder) {
		b.backoff = scheduler
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("relay", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return relayErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	token := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Token.CredentialKey) != "" {
		token["credential_key"] = cfg.Token.CredentialKey
	}
	if includeZero || cfg.Token.SafetyBufferSeconds > 0 {
		token["safety_buffer_seconds"] = cfg.Token.SafetyBufferSeconds
	}
	if includeZero || cfg.Token.MintTimeoutSeconds > 0 {
		token["mint_timeout_seconds"] = cfg.Token.MintTimeoutSeconds
	}
	if len(token) > 0 {
		layer["token"] = token
	}

	breaker := map[string]any{}
	if includeZero || cfg.Breaker.Threshold > 0 {
		breaker["threshold"] = cfg.Breaker.Threshold
	}
	if includeZero || cfg.Breaker.CooldownSeconds > 0 {
		breaker["cooldown_seconds"] = cfg.Breaker.CooldownSeconds
	}
	if len(breaker) > 0 {
		layer["breaker"] = breaker
	}

	retry := map[string]any{}
	if includeZero || cfg.Retry.MaxAttempts > 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	if includeZero || cfg.Retry.InitialBackoffMS > 0 {
		retry["initial_backoff_ms"] = cfg.Retry.InitialBackoffMS
	}
	if includeZero || cfg.Retry.MaxBackoffMS > 0 {
		retry["max_backoff_ms"] = cfg.Retry.MaxBackoffMS
	}
	if includeZero || cfg.Retry.JitterRatio > 0 {
		retry["jitter_ratio"] = cfg.Retry.JitterRatio
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	deadLetter := map[string]any{}
	if includeZero || cfg.DeadLetter.RetryBudget > 0 {
		deadLetter["retry_budget"] = cfg.DeadLetter.RetryBudget
	}
	if includeZero || cfg.DeadLetter.AlertThreshold > 0 {
		deadLetter["alert_threshold"] = cfg.DeadLetter.AlertThreshold
	}
	if includeZero || cfg.DeadLetter.AlertWindowHours > 0 {
		deadLetter["alert_window_hours"] = cfg.DeadLetter.AlertWindowHours
	}
	if len(deadLetter) > 0 {
		layer["dead_letter"] = deadLetter
	}

	return layer
}

package core

import (
	"fmt"
	"strings"
)

type TokenConfig struct {
	CredentialKey       string `koanf:"credential_key" mapstructure:"credential_key"`
	SafetyBufferSeconds int    `koanf:"safety_buffer_seconds" mapstructure:"safety_buffer_seconds"`
	MintTimeoutSeconds  int    `koanf:"mint_timeout_seconds" mapstructure:"mint_timeout_seconds"`
}

type BreakerConfig struct {
	Threshold       int `koanf:"threshold" mapstructure:"threshold"`
	CooldownSeconds int `koanf:"cooldown_seconds" mapstructure:"cooldown_seconds"`
}

type RetryConfig struct {
	MaxAttempts      int     `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `koanf:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `koanf:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterRatio      float64 `koanf:"jitter_ratio" mapstructure:"jitter_ratio"`
}

type DeadLetterConfig struct {
	RetryBudget      int `koanf:"retry_budget" mapstructure:"retry_budget"`
	AlertThreshold   int `koanf:"alert_threshold" mapstructure:"alert_threshold"`
	AlertWindowHours int `koanf:"alert_window_hours" mapstructure:"alert_window_hours"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	Token       TokenConfig      `koanf:"token" mapstructure:"token"`
	Breaker     BreakerConfig    `koanf:"breaker" mapstructure:"breaker"`
	Retry       RetryConfig      `koanf:"retry" mapstructure:"retry"`
	DeadLetter  DeadLetterConfig `koanf:"dead_letter" mapstructure:"dead_letter"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "relay",
		Token: TokenConfig{
			CredentialKey:       "default",
			SafetyBufferSeconds: int(DefaultTokenSafetyBuffer.Seconds()),
			MintTimeoutSeconds:  int(defaultTokenMintTimeout.Seconds()),
		},
		Breaker: BreakerConfig{
			Threshold:       DefaultBreakerThreshold,
			CooldownSeconds: int(DefaultBreakerCooldown.Seconds()),
		},
		Retry: RetryConfig{
			MaxAttempts:      defaultRetryMaxAttempts,
			InitialBackoffMS: int(defaultRetryInitialBackoff.Milliseconds()),
			MaxBackoffMS:     int(defaultRetryMaxBackoff.Milliseconds()),
			JitterRatio:      defaultRetryJitterRatio,
		},
		DeadLetter: DeadLetterConfig{
			RetryBudget:      DefaultDeadLetterRetryBudget,
			AlertThreshold:   DefaultDeadLetterAlertThreshold,
			AlertWindowHours: int(DefaultDeadLetterAlertWindow.Hours()),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Token.SafetyBufferSeconds < 0 {
		return fmt.Errorf("core: token.safety_buffer_seconds must not be negative")
	}
	if c.Breaker.Threshold < 0 {
		return fmt.Errorf("core: breaker.threshold must not be negative")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("core: retry.max_attempts must not be negative")
	}
	if c.Retry.JitterRatio < 0 || c.Retry.JitterRatio > 1 {
		return fmt.Errorf("core: retry.jitter_ratio must be between 0 and 1")
	}
	if c.DeadLetter.RetryBudget < 0 {
		return fmt.Errorf("core: dead_letter.retry_budget must not be negative")
	}
	return nil
}

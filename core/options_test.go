package core

import (
	"context"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Retry.MaxAttempts != defaultRetryMaxAttempts {
		t.Fatalf("unexpected default max attempts %d", cfg.Retry.MaxAttempts)
	}
	if cfg.DeadLetter.RetryBudget != DefaultDeadLetterRetryBudget {
		t.Fatalf("unexpected default retry budget %d", cfg.DeadLetter.RetryBudget)
	}
}

func TestConfigValidate_RejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ServiceName = "  "
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected blank service name rejection")
	}

	cfg = DefaultConfig()
	cfg.Retry.JitterRatio = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected jitter ratio rejection")
	}
}

func TestGoOptionsResolver_RuntimeWinsOverLoaded(t *testing.T) {
	defaults := DefaultConfig()
	loaded := Config{Retry: RetryConfig{MaxAttempts: 5}}
	runtime := Config{Retry: RetryConfig{MaxAttempts: 7}}

	resolved, err := GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Retry.MaxAttempts != 7 {
		t.Fatalf("expected runtime layer to win, got %d", resolved.Retry.MaxAttempts)
	}
	if resolved.ServiceName != defaults.ServiceName {
		t.Fatalf("expected default service name to survive, got %q", resolved.ServiceName)
	}
}

func TestCfgxConfigProvider_LoadsRawValues(t *testing.T) {
	provider := NewCfgxConfigProvider(staticRawConfigLoader{Values: map[string]any{
		"service_name": "relay-staging",
		"breaker": map[string]any{
			"threshold": 9,
		},
	}})

	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "relay-staging" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Breaker.Threshold != 9 {
		t.Fatalf("expected loaded breaker threshold, got %d", cfg.Breaker.Threshold)
	}
	if cfg.Retry.MaxAttempts != defaultRetryMaxAttempts {
		t.Fatalf("expected default retry settings to backfill, got %d", cfg.Retry.MaxAttempts)
	}
}

package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTokenCache_SingleMintUnderConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	cache, err := NewTokenCache(minter, TokenCacheConfig{})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	const racers = 50
	var wg sync.WaitGroup
	tokens := make([]CachedToken, racers)
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.GetToken(ctx, "crm")
		}(i)
	}
	wg.Wait()

	if got := minter.count(); got != 1 {
		t.Fatalf("expected exactly one mint, got %d", got)
	}
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if tokens[i].Value != tokens[0].Value {
			t.Fatalf("caller %d saw token %q, want %q", i, tokens[i].Value, tokens[0].Value)
		}
	}

	stats := cache.Stats()
	if stats.MintAttempts != 1 {
		t.Fatalf("expected 1 mint attempt, got %d", stats.MintAttempts)
	}
	if stats.CacheHits+stats.WaitersAvoidedMint != racers-1 {
		t.Fatalf("expected %d callers served without minting, got hits=%d avoided=%d",
			racers-1, stats.CacheHits, stats.WaitersAvoidedMint)
	}
}

func TestTokenCache_RefreshesInsideSafetyBuffer(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	cache, err := NewTokenCache(minter, TokenCacheConfig{SafetyBuffer: 5 * time.Minute})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cache.Now = func() time.Time { return now }

	first, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}

	// Still comfortably fresh: no second mint.
	now = now.Add(30 * time.Minute)
	again, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Value != first.Value {
		t.Fatalf("expected cached token, got a new one")
	}
	if minter.count() != 1 {
		t.Fatalf("expected 1 mint, got %d", minter.count())
	}

	// Inside the safety buffer the token counts as stale even though the
	// wall-clock expiry has not passed.
	now = first.ExpiresAt.Add(-time.Minute)
	refreshed, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("refresh get: %v", err)
	}
	if refreshed.Value == first.Value {
		t.Fatalf("expected refreshed token")
	}
	if minter.count() != 2 {
		t.Fatalf("expected 2 mints, got %d", minter.count())
	}
}

func TestTokenCache_MintFailurePropagatesAndCachesNothing(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	minter.errs = []error{fmt.Errorf("issuer unavailable")}
	cache, err := NewTokenCache(minter, TokenCacheConfig{})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	if _, err := cache.GetToken(ctx, "crm"); err == nil {
		t.Fatalf("expected mint failure")
	} else if ErrorTypeOf(err) != ErrorTypeAuth {
		t.Fatalf("expected auth error, got %v", err)
	}

	// Nothing cached: the next caller mints again and succeeds.
	token, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if token.Value == "" {
		t.Fatalf("expected minted token after recovery")
	}
	if minter.count() != 2 {
		t.Fatalf("expected 2 mints, got %d", minter.count())
	}
}

func TestTokenCache_FailedMintSharedWithWaiters(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	minter.errs = []error{fmt.Errorf("issuer unavailable")}
	minter.paused = make(chan struct{})
	cache, err := NewTokenCache(minter, TokenCacheConfig{})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	const racers = 10
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetToken(ctx, "crm")
		}(i)
	}
	// Let the racers pile up behind the in-flight mint, then release it.
	time.Sleep(50 * time.Millisecond)
	close(minter.paused)
	wg.Wait()

	failures := 0
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			if ErrorTypeOf(errs[i]) != ErrorTypeAuth {
				t.Fatalf("caller %d: expected auth error, got %v", i, errs[i])
			}
			failures++
		}
	}
	if failures == 0 {
		t.Fatalf("expected the failed mint to reach at least one caller")
	}
	// One failed mint plus at most one recovery mint; waiters behind the
	// failed mint must not each hit the issuer.
	if got := minter.count(); got > 2 {
		t.Fatalf("expected at most 2 mints, got %d", got)
	}
}

func TestTokenCache_InvalidateForcesRemint(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	cache, err := NewTokenCache(minter, TokenCacheConfig{})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	first, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	cache.Invalidate("crm")
	second, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if second.Value == first.Value {
		t.Fatalf("expected a new token after invalidate")
	}
}

func TestTokenCache_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	minter := newCountingMinter("tok", time.Hour)
	cache, err := NewTokenCache(minter, TokenCacheConfig{})
	if err != nil {
		t.Fatalf("new token cache: %v", err)
	}

	a, err := cache.GetToken(ctx, "crm")
	if err != nil {
		t.Fatalf("get crm: %v", err)
	}
	b, err := cache.GetToken(ctx, "billing")
	if err != nil {
		t.Fatalf("get billing: %v", err)
	}
	if a.Value == b.Value {
		t.Fatalf("expected distinct tokens per credential key")
	}
	if minter.count() != 2 {
		t.Fatalf("expected one mint per key, got %d", minter.count())
	}
}

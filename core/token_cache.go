package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTokenSafetyBuffer = 2 * time.Minute
	defaultTokenMintTimeout  = 15 * time.Second
)

// TokenCacheStats exposes counters used to verify refresh concurrency: under
// N racing callers exactly one mint occurs, and the other N-1 show up as
// WaitersAvoidedMint.
type TokenCacheStats struct {
	MintAttempts       int64
	CacheHits          int64
	WaitersAvoidedMint int64
}

type tokenCacheEntry struct {
	mu    sync.Mutex
	token CachedToken
	// gen increments on every mint attempt; lastErr holds the outcome of the
	// most recent one. Waiters queued behind a failed mint observe that error
	// instead of issuing their own mint calls.
	gen     uint64
	lastErr error
}

// TokenCache caches one short-lived bearer credential per credential key.
// The fast path reads under a shared lock; the slow path serializes refresh
// on a per-key mutex and re-checks freshness after acquisition so only one
// mint call happens per stale window. The cached value is replaced whole,
// never mutated in place.
type TokenCache struct {
	minter       TokenMinter
	safetyBuffer time.Duration
	mintTimeout  time.Duration
	metrics      MetricsRecorder
	Now          func() time.Time

	mu      sync.Mutex
	entries map[string]*tokenCacheEntry

	statsMu sync.Mutex
	stats   TokenCacheStats
}

type TokenCacheConfig struct {
	SafetyBuffer time.Duration
	MintTimeout  time.Duration
	Metrics      MetricsRecorder
}

func NewTokenCache(minter TokenMinter, cfg TokenCacheConfig) (*TokenCache, error) {
	if minter == nil {
		return nil, fmt.Errorf("core: token minter is required")
	}
	safetyBuffer := cfg.SafetyBuffer
	if safetyBuffer <= 0 {
		safetyBuffer = DefaultTokenSafetyBuffer
	}
	mintTimeout := cfg.MintTimeout
	if mintTimeout <= 0 {
		mintTimeout = defaultTokenMintTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &TokenCache{
		minter:       minter,
		safetyBuffer: safetyBuffer,
		mintTimeout:  mintTimeout,
		metrics:      metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		entries: map[string]*tokenCacheEntry{},
	}, nil
}

// GetToken returns a token valid for at least the safety buffer. On mint
// failure nothing is cached and the AuthError propagates to every waiter.
func (c *TokenCache) GetToken(ctx context.Context, credentialKey string) (CachedToken, error) {
	if c == nil || c.minter == nil {
		return CachedToken{}, fmt.Errorf("core: token cache is not configured")
	}
	credentialKey = strings.TrimSpace(credentialKey)
	if credentialKey == "" {
		return CachedToken{}, fmt.Errorf("core: credential key is required")
	}

	entry := c.entry(credentialKey)

	// Fast path: freshness check without holding the refresh mutex. The
	// token is a whole value behind the entry lock, so readers never see a
	// partially written credential.
	token, observedGen, ok := c.snapshot(entry)
	if ok {
		c.recordHit(ctx, credentialKey)
		return token, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Double check: another caller may have refreshed while we waited.
	if entry.token.Fresh(c.now(), c.safetyBuffer) {
		c.recordAvoidedMint(ctx, credentialKey)
		return entry.token, nil
	}
	// A mint ran while we waited and failed; share its error rather than
	// stampeding the issuer.
	if entry.gen != observedGen && entry.lastErr != nil {
		return CachedToken{}, entry.lastErr
	}

	mintCtx, cancel := context.WithTimeout(ctx, c.mintTimeout)
	defer cancel()

	c.recordMintAttempt(ctx, credentialKey)
	entry.gen++
	minted, err := c.minter.Mint(mintCtx, credentialKey)
	if err != nil {
		entry.lastErr = AuthError(
			fmt.Sprintf("core: token mint failed for credential %q", credentialKey),
			err,
		)
		return CachedToken{}, entry.lastErr
	}
	if strings.TrimSpace(minted.Value) == "" {
		entry.lastErr = AuthError(
			fmt.Sprintf("core: token mint returned empty credential for %q", credentialKey),
			nil,
		)
		return CachedToken{}, entry.lastErr
	}
	if minted.ExpiresIn <= c.safetyBuffer {
		entry.lastErr = AuthError(
			fmt.Sprintf("core: minted token for %q expires inside the safety buffer", credentialKey),
			nil,
		)
		return CachedToken{}, entry.lastErr
	}

	token = CachedToken{
		Value:     minted.Value,
		ExpiresAt: c.now().Add(minted.ExpiresIn),
	}
	entry.token = token
	entry.lastErr = nil
	return token, nil
}

// Invalidate drops the cached token for a credential key, forcing the next
// caller through the mint path.
func (c *TokenCache) Invalidate(credentialKey string) {
	if c == nil {
		return
	}
	entry := c.entry(strings.TrimSpace(credentialKey))
	entry.mu.Lock()
	entry.token = CachedToken{}
	entry.lastErr = nil
	entry.mu.Unlock()
}

func (c *TokenCache) Stats() TokenCacheStats {
	if c == nil {
		return TokenCacheStats{}
	}
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *TokenCache) entry(credentialKey string) *tokenCacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[credentialKey]
	if !ok {
		entry = &tokenCacheEntry{}
		c.entries[credentialKey] = entry
	}
	return entry
}

func (c *TokenCache) snapshot(entry *tokenCacheEntry) (CachedToken, uint64, bool) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.token.Fresh(c.now(), c.safetyBuffer) {
		return entry.token, entry.gen, true
	}
	return CachedToken{}, entry.gen, false
}

func (c *TokenCache) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *TokenCache) recordMintAttempt(ctx context.Context, credentialKey string) {
	c.statsMu.Lock()
	c.stats.MintAttempts++
	c.statsMu.Unlock()
	c.metrics.IncCounter(ctx, "relay.token.mint_attempts.total", 1, map[string]string{
		"credential_key": credentialKey,
	})
}

func (c *TokenCache) recordHit(ctx context.Context, credentialKey string) {
	c.statsMu.Lock()
	c.stats.CacheHits++
	c.statsMu.Unlock()
	c.metrics.IncCounter(ctx, "relay.token.cache_hits.total", 1, map[string]string{
		"credential_key": credentialKey,
	})
}

func (c *TokenCache) recordAvoidedMint(ctx context.Context, credentialKey string) {
	c.statsMu.Lock()
	c.stats.WaitersAvoidedMint++
	c.statsMu.Unlock()
	c.metrics.IncCounter(ctx, "relay.token.waiters_avoided_mint.total", 1, map[string]string{
		"credential_key": credentialKey,
	})
}

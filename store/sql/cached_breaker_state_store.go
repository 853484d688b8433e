package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-relay/core"
)

const breakerStateCacheKeyPrefix = "go-relay::breaker_state::v1"

// CachedBreakerStateStore fronts a breaker state store with a read cache.
// Reads on the hot dispatch path mostly observe a closed breaker; the cache
// absorbs those lookups and every swap invalidates the key so phase
// transitions are visible on the next read.
type CachedBreakerStateStore struct {
	base  core.BreakerStateStore
	cache repositorycache.CacheService
}

func NewCachedBreakerStateStore(
	base core.BreakerStateStore,
	cacheService repositorycache.CacheService,
) (*CachedBreakerStateStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base breaker state store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: breaker state cache service is required")
	}
	return &CachedBreakerStateStore{base: base, cache: cacheService}, nil
}

// BreakerStateCacheKey returns the deterministic cache key contract for
// breaker state reads: go-relay::breaker_state::v1::<endpoint_key> with the
// key segment URL-path escaped.
func BreakerStateCacheKey(endpointKey string) (string, error) {
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return "", fmt.Errorf("sqlstore: endpoint key is required")
	}
	return breakerStateCacheKeyPrefix + "::" + url.PathEscape(endpointKey), nil
}

func (s *CachedBreakerStateStore) Get(ctx context.Context, endpointKey string) (core.BreakerState, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BreakerState{}, fmt.Errorf("sqlstore: cached breaker state store is not configured")
	}
	cacheKey, err := BreakerStateCacheKey(endpointKey)
	if err != nil {
		return core.BreakerState{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.BreakerState, error) {
		return s.base.Get(ctx, strings.TrimSpace(endpointKey))
	})
	if err != nil {
		return core.BreakerState{}, err
	}
	return cloneBreakerState(state), nil
}

func (s *CachedBreakerStateStore) CompareAndSwap(ctx context.Context, next core.BreakerState) (core.BreakerState, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BreakerState{}, false, fmt.Errorf("sqlstore: cached breaker state store is not configured")
	}
	winning, swapped, err := s.base.CompareAndSwap(ctx, next)
	if err != nil {
		return core.BreakerState{}, false, err
	}

	// Invalidate on lost races too: the cached copy is what made the caller
	// stale in the first place.
	cacheKey, keyErr := BreakerStateCacheKey(next.EndpointKey)
	if keyErr != nil {
		return core.BreakerState{}, false, keyErr
	}
	if deleteErr := s.cache.Delete(ctx, cacheKey); deleteErr != nil {
		return core.BreakerState{}, false, deleteErr
	}
	return winning, swapped, nil
}

func cloneBreakerState(state core.BreakerState) core.BreakerState {
	cloned := state
	cloned.OpenedAt = copyTimePointer(state.OpenedAt)
	return cloned
}

var _ core.BreakerStateStore = (*CachedBreakerStateStore)(nil)

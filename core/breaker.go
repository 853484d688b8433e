package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second
)

// CircuitBreaker gates outbound calls per endpoint key. State lives behind
// an injectable BreakerStateStore so a deployment chooses whether breaker
// state survives restarts (SQL store) or resets with the process (memory
// store). All transitions go through compare-and-swap; concurrent dispatch
// workers never lose updates, they retry against the winning state.
//
// Open -> HalfOpen happens lazily on the next Allow call after the cooldown,
// not via a background timer. HalfOpen admits a single probe.
type CircuitBreaker struct {
	store     BreakerStateStore
	threshold int
	cooldown  time.Duration
	metrics   MetricsRecorder
	Now       func() time.Time
}

type CircuitBreakerConfig struct {
	Threshold int
	Cooldown  time.Duration
	Metrics   MetricsRecorder
}

func NewCircuitBreaker(store BreakerStateStore, cfg CircuitBreakerConfig) (*CircuitBreaker, error) {
	if store == nil {
		return nil, fmt.Errorf("core: breaker state store is required")
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &CircuitBreaker{
		store:     store,
		threshold: threshold,
		cooldown:  cooldown,
		metrics:   metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Allow reports whether a call may be attempted. When the cooldown for an
// Open endpoint has elapsed it transitions the state to HalfOpen and admits
// exactly one probe; losers of that transition race stay short-circuited.
// Never returns an error for policy outcomes; storage failures fail open so
// a broken breaker store does not take down delivery.
func (b *CircuitBreaker) Allow(ctx context.Context, endpointKey string) bool {
	if b == nil || b.store == nil {
		return true
	}
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return true
	}

	state, err := b.store.Get(ctx, endpointKey)
	if err != nil {
		return true
	}
	switch state.Phase {
	case BreakerClosed, "":
		return true
	case BreakerHalfOpen:
		// A probe is already in flight.
		return false
	case BreakerOpen:
		openedAt := state.UpdatedAt
		if state.OpenedAt != nil {
			openedAt = *state.OpenedAt
		}
		if b.now().Sub(openedAt) < b.cooldown {
			return false
		}
		next := state
		next.Phase = BreakerHalfOpen
		next.UpdatedAt = b.now()
		if _, swapped, swapErr := b.store.CompareAndSwap(ctx, next); swapErr == nil && swapped {
			b.recordTransition(ctx, endpointKey, BreakerOpen, BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// IsOpen reports whether the breaker is open for an endpoint without
// touching state. An open endpoint whose cooldown has elapsed still reports
// open here; only Allow admits the half-open probe. Safe for dashboards and
// status endpoints to poll.
func (b *CircuitBreaker) IsOpen(ctx context.Context, endpointKey string) bool {
	state, err := b.State(ctx, endpointKey)
	if err != nil {
		return false
	}
	return state.Phase == BreakerOpen
}

// RecordSuccess closes the breaker and resets the failure count. No side
// effects beyond the state transition; never returns an error.
func (b *CircuitBreaker) RecordSuccess(ctx context.Context, endpointKey string) {
	b.update(ctx, endpointKey, func(state BreakerState) (BreakerState, bool) {
		if state.Phase == BreakerClosed && state.FailureCount == 0 {
			return state, false
		}
		previous := state.Phase
		state.Phase = BreakerClosed
		state.FailureCount = 0
		state.OpenedAt = nil
		if previous != BreakerClosed {
			b.recordTransition(ctx, endpointKey, previous, BreakerClosed)
		}
		return state, true
	})
}

// RecordFailure counts a consecutive failure; reaching the threshold (or
// failing a HalfOpen probe) opens the breaker and restarts the cooldown.
func (b *CircuitBreaker) RecordFailure(ctx context.Context, endpointKey string) {
	b.update(ctx, endpointKey, func(state BreakerState) (BreakerState, bool) {
		previous := state.Phase
		state.FailureCount++
		if previous == BreakerHalfOpen || state.FailureCount >= b.threshold {
			openedAt := b.now()
			state.Phase = BreakerOpen
			state.OpenedAt = &openedAt
			if previous != BreakerOpen {
				b.recordTransition(ctx, endpointKey, previous, BreakerOpen)
			}
		}
		return state, true
	})
}

// Trip forces the breaker open regardless of failure count. Operator action
// used to fence off an endpoint during a known consumer outage.
func (b *CircuitBreaker) Trip(ctx context.Context, endpointKey string) {
	b.update(ctx, endpointKey, func(state BreakerState) (BreakerState, bool) {
		if state.Phase == BreakerOpen {
			return state, false
		}
		previous := state.Phase
		openedAt := b.now()
		state.Phase = BreakerOpen
		state.OpenedAt = &openedAt
		if state.FailureCount < b.threshold {
			state.FailureCount = b.threshold
		}
		b.recordTransition(ctx, endpointKey, previous, BreakerOpen)
		return state, true
	})
}

// Reset forces the breaker closed and clears the failure count.
func (b *CircuitBreaker) Reset(ctx context.Context, endpointKey string) {
	b.RecordSuccess(ctx, endpointKey)
}

// State returns the current breaker state for an endpoint; unseen endpoints
// report Closed.
func (b *CircuitBreaker) State(ctx context.Context, endpointKey string) (BreakerState, error) {
	if b == nil || b.store == nil {
		return BreakerState{}, fmt.Errorf("core: circuit breaker is not configured")
	}
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return BreakerState{}, fmt.Errorf("core: endpoint key is required")
	}
	state, err := b.store.Get(ctx, endpointKey)
	if err == ErrBreakerStateNotFound {
		return BreakerState{EndpointKey: endpointKey, Phase: BreakerClosed}, nil
	}
	if err != nil {
		return BreakerState{}, err
	}
	return state, nil
}

func (b *CircuitBreaker) update(
	ctx context.Context,
	endpointKey string,
	mutate func(BreakerState) (BreakerState, bool),
) {
	if b == nil || b.store == nil {
		return
	}
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return
	}

	// Loop until the swap wins; a lost race means another writer made
	// progress, so this terminates.
	for {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		state, err := b.store.Get(ctx, endpointKey)
		if err != nil && err != ErrBreakerStateNotFound {
			return
		}
		if err == ErrBreakerStateNotFound {
			state = BreakerState{EndpointKey: endpointKey, Phase: BreakerClosed}
		}
		next, changed := mutate(state)
		if !changed {
			return
		}
		next.EndpointKey = endpointKey
		next.UpdatedAt = b.now()
		if _, swapped, swapErr := b.store.CompareAndSwap(ctx, next); swapErr != nil || swapped {
			return
		}
		// Lost the CAS race; re-read and retry against the winning state.
	}
}

func (b *CircuitBreaker) now() time.Time {
	if b != nil && b.Now != nil {
		return b.Now().UTC()
	}
	return time.Now().UTC()
}

func (b *CircuitBreaker) recordTransition(ctx context.Context, endpointKey string, from, to BreakerPhase) {
	if b == nil || b.metrics == nil {
		return
	}
	b.metrics.IncCounter(ctx, "relay.breaker.transitions.total", 1, map[string]string{
		"endpoint_key": endpointKey,
		"from":         string(from),
		"to":           string(to),
	})
}

// MemoryBreakerStateStore keeps breaker state in process memory. State
// resets on restart and is not shared across processes; multi-process
// deployments use the SQL store or its cached decorator instead.
type MemoryBreakerStateStore struct {
	mu     sync.Mutex
	states map[string]BreakerState
}

func NewMemoryBreakerStateStore() *MemoryBreakerStateStore {
	return &MemoryBreakerStateStore{states: map[string]BreakerState{}}
}

func (s *MemoryBreakerStateStore) Get(_ context.Context, endpointKey string) (BreakerState, error) {
	if s == nil {
		return BreakerState{}, fmt.Errorf("core: breaker state store is nil")
	}
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return BreakerState{}, fmt.Errorf("core: endpoint key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[endpointKey]
	if !ok {
		return BreakerState{}, ErrBreakerStateNotFound
	}
	return state, nil
}

func (s *MemoryBreakerStateStore) CompareAndSwap(_ context.Context, next BreakerState) (BreakerState, bool, error) {
	if s == nil {
		return BreakerState{}, false, fmt.Errorf("core: breaker state store is nil")
	}
	next.EndpointKey = strings.TrimSpace(next.EndpointKey)
	if next.EndpointKey == "" {
		return BreakerState{}, false, fmt.Errorf("core: endpoint key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.states[next.EndpointKey]
	if !exists {
		if next.Version != 0 {
			return BreakerState{}, false, nil
		}
		next.Version = 1
		s.states[next.EndpointKey] = next
		return next, true, nil
	}
	if current.Version != next.Version {
		return current, false, nil
	}
	next.Version++
	s.states[next.EndpointKey] = next
	return next, true, nil
}

var _ BreakerStateStore = (*MemoryBreakerStateStore)(nil)

package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IdempotencyGuard wraps consumer-side writes so redelivered events collapse
// to a single apply. The composite key is (correlation id, event type); the
// payload hash pins the accepted content for that key. A redelivery with the
// same hash is a duplicate, a redelivery with a different hash is treated as
// tampering and surfaces HashMismatchError instead of updating anything.
type IdempotencyGuard struct {
	store   IdempotencyRecordStore
	metrics MetricsRecorder
	Now     func() time.Time
}

type IdempotencyGuardConfig struct {
	Metrics MetricsRecorder
}

func NewIdempotencyGuard(store IdempotencyRecordStore, cfg IdempotencyGuardConfig) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, fmt.Errorf("core: idempotency record store is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &IdempotencyGuard{
		store:   store,
		metrics: metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Apply runs fn exactly once per (correlation id, event type, payload hash).
// The claim is taken before fn runs and finalized after, so two concurrent
// deliveries of the same event cannot both reach the consumer. When fn fails
// the claim is released and a later redelivery may retry the apply.
func (g *IdempotencyGuard) Apply(ctx context.Context, event Event, fn ApplyFunc) (ApplyResult, error) {
	if g == nil || g.store == nil {
		return ApplyResult{}, fmt.Errorf("core: idempotency guard is not configured")
	}
	if fn == nil {
		return ApplyResult{}, fmt.Errorf("core: apply function is required")
	}
	if err := event.Validate(); err != nil {
		return ApplyResult{}, err
	}
	if strings.TrimSpace(event.CorrelationID) == "" {
		return ApplyResult{}, fmt.Errorf("core: event correlation id is required")
	}
	event = EnsurePayloadHash(event)

	record := IdempotencyRecord{
		CorrelationID: strings.TrimSpace(event.CorrelationID),
		EventType:     strings.TrimSpace(event.EventType),
		PayloadHash:   event.PayloadHash,
	}

	claim, err := g.store.Claim(ctx, record)
	if err != nil {
		return ApplyResult{}, StorageError("core: idempotency claim failed", err)
	}
	if !claim.Accepted {
		existing := claim.Existing
		if existing.PayloadHash != record.PayloadHash {
			g.recordOutcome(ctx, record.EventType, "hash_mismatch")
			return ApplyResult{}, HashMismatchError(existing, record.PayloadHash)
		}
		// Same hash: either already applied or an identical delivery is in
		// flight. Both collapse to AlreadyApplied; the producer redelivers if
		// the in-flight apply ends up failing.
		g.recordOutcome(ctx, record.EventType, "duplicate")
		return ApplyResult{
			Kind:           ApplyAlreadyApplied,
			Record:         existing,
			TargetRecordID: existing.TargetRecordID,
		}, nil
	}

	targetRecordID, applyErr := fn(ctx, event)
	if applyErr != nil {
		if failErr := g.store.Fail(ctx, claim.ClaimID); failErr != nil {
			return ApplyResult{}, StorageError("core: idempotency claim release failed", failErr)
		}
		return ApplyResult{}, applyErr
	}

	appliedAt := g.now()
	if err := g.store.Complete(ctx, claim.ClaimID, targetRecordID, appliedAt); err != nil {
		// The consumer write may have landed; surface a storage error rather
		// than pretending the apply is fully recorded.
		return ApplyResult{}, StorageError("core: idempotency record completion failed", err)
	}

	record.TargetRecordID = targetRecordID
	record.LastAppliedAt = appliedAt
	g.recordOutcome(ctx, record.EventType, "applied")
	return ApplyResult{
		Kind:           ApplyCreated,
		Record:         record,
		TargetRecordID: targetRecordID,
	}, nil
}

// ApplyBatch applies events in order. Later events carrying a key already
// claimed earlier in the batch observe the in-batch record exactly as a
// cross-process duplicate would. Processing stops at the first error so the
// caller knows which events were never attempted.
func (g *IdempotencyGuard) ApplyBatch(ctx context.Context, events []Event, fn ApplyFunc) ([]ApplyResult, error) {
	if g == nil || g.store == nil {
		return nil, fmt.Errorf("core: idempotency guard is not configured")
	}
	results := make([]ApplyResult, 0, len(events))
	for i, event := range events {
		result, err := g.Apply(ctx, event, fn)
		if err != nil {
			return results, fmt.Errorf("core: batch apply failed at index %d: %w", i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Check reports the recorded state for a composite key without applying
// anything. Unknown keys return ErrIdempotencyRecordNotFound.
func (g *IdempotencyGuard) Check(ctx context.Context, correlationID, eventType string) (IdempotencyRecord, error) {
	if g == nil || g.store == nil {
		return IdempotencyRecord{}, fmt.Errorf("core: idempotency guard is not configured")
	}
	correlationID = strings.TrimSpace(correlationID)
	eventType = strings.TrimSpace(eventType)
	if correlationID == "" || eventType == "" {
		return IdempotencyRecord{}, fmt.Errorf("core: correlation id and event type are required")
	}
	return g.store.Get(ctx, correlationID, eventType)
}

func (g *IdempotencyGuard) now() time.Time {
	if g != nil && g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *IdempotencyGuard) recordOutcome(ctx context.Context, eventType, outcome string) {
	if g == nil || g.metrics == nil {
		return
	}
	g.metrics.IncCounter(ctx, "relay.idempotency.applies.total", 1, map[string]string{
		"event_type": eventType,
		"outcome":    outcome,
	})
}

type memoryIdempotencyEntry struct {
	record   IdempotencyRecord
	claimID  string
	inFlight bool
}

// MemoryIdempotencyRecordStore keeps claims in process memory. Suitable for
// tests and single-process deployments; durable setups use the SQL store.
type MemoryIdempotencyRecordStore struct {
	mu      sync.Mutex
	entries map[string]*memoryIdempotencyEntry
	claims  map[string]string
}

func NewMemoryIdempotencyRecordStore() *MemoryIdempotencyRecordStore {
	return &MemoryIdempotencyRecordStore{
		entries: map[string]*memoryIdempotencyEntry{},
		claims:  map[string]string{},
	}
}

func (s *MemoryIdempotencyRecordStore) Get(_ context.Context, correlationID, eventType string) (IdempotencyRecord, error) {
	if s == nil {
		return IdempotencyRecord{}, fmt.Errorf("core: idempotency record store is nil")
	}
	key := IdempotencyRecord{CorrelationID: correlationID, EventType: eventType}.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return IdempotencyRecord{}, ErrIdempotencyRecordNotFound
	}
	return entry.record, nil
}

func (s *MemoryIdempotencyRecordStore) Claim(_ context.Context, record IdempotencyRecord) (IdempotencyClaim, error) {
	if s == nil {
		return IdempotencyClaim{}, fmt.Errorf("core: idempotency record store is nil")
	}
	if err := record.Validate(); err != nil {
		return IdempotencyClaim{}, err
	}
	record.CorrelationID = strings.TrimSpace(record.CorrelationID)
	record.EventType = strings.TrimSpace(record.EventType)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := record.Key()
	if existing, ok := s.entries[key]; ok {
		return IdempotencyClaim{Accepted: false, Existing: existing.record}, nil
	}

	claimID := uuid.NewString()
	s.entries[key] = &memoryIdempotencyEntry{
		record:   record,
		claimID:  claimID,
		inFlight: true,
	}
	s.claims[claimID] = key
	return IdempotencyClaim{ClaimID: claimID, Accepted: true}, nil
}

func (s *MemoryIdempotencyRecordStore) Complete(_ context.Context, claimID, targetRecordID string, appliedAt time.Time) error {
	if s == nil {
		return fmt.Errorf("core: idempotency record store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.claims[claimID]
	if !ok {
		return fmt.Errorf("core: unknown idempotency claim %q", claimID)
	}
	entry, ok := s.entries[key]
	if !ok || entry.claimID != claimID {
		return fmt.Errorf("core: idempotency claim %q no longer holds its record", claimID)
	}
	entry.record.TargetRecordID = strings.TrimSpace(targetRecordID)
	entry.record.LastAppliedAt = appliedAt
	entry.inFlight = false
	delete(s.claims, claimID)
	return nil
}

func (s *MemoryIdempotencyRecordStore) Fail(_ context.Context, claimID string) error {
	if s == nil {
		return fmt.Errorf("core: idempotency record store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.claims[claimID]
	if !ok {
		return fmt.Errorf("core: unknown idempotency claim %q", claimID)
	}
	entry, ok := s.entries[key]
	if ok && entry.claimID == claimID && entry.inFlight {
		delete(s.entries, key)
	}
	delete(s.claims, claimID)
	return nil
}

var _ IdempotencyRecordStore = (*MemoryIdempotencyRecordStore)(nil)

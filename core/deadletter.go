package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultDeadLetterRetryBudget    = 3
	DefaultDeadLetterAlertThreshold = 3
	DefaultDeadLetterAlertWindow    = 24 * time.Hour
	defaultDeadLetterClaimLimit     = 25
)

// RedeliverFunc re-dispatches a dead-lettered event. Wired to the dispatcher
// in production; tests inject fakes.
type RedeliverFunc func(ctx context.Context, event Event) (DispatchOutcome, error)

// DeadLetterQueue is the policy layer over a DeadLetterStore: it decides
// which failures are worth automatic redelivery, enforces the bounded retry
// budget, and raises the backlog alert. Entries are never silently dropped;
// every terminal path is a recorded status.
type DeadLetterQueue struct {
	store     DeadLetterStore
	backoff   BackoffScheduler
	budget    int
	threshold int
	window    time.Duration
	sink      AlertSink
	metrics   MetricsRecorder
	Now       func() time.Time
}

type DeadLetterQueueConfig struct {
	RetryBudget    int
	AlertThreshold int
	AlertWindow    time.Duration
	Backoff        BackoffScheduler
	AlertSink      AlertSink
	Metrics        MetricsRecorder
}

func NewDeadLetterQueue(store DeadLetterStore, cfg DeadLetterQueueConfig) (*DeadLetterQueue, error) {
	if store == nil {
		return nil, fmt.Errorf("core: dead letter store is required")
	}
	budget := cfg.RetryBudget
	if budget <= 0 {
		budget = DefaultDeadLetterRetryBudget
	}
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultDeadLetterAlertThreshold
	}
	window := cfg.AlertWindow
	if window <= 0 {
		window = DefaultDeadLetterAlertWindow
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = ExponentialBackoffScheduler{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return &DeadLetterQueue{
		store:     store,
		backoff:   backoff,
		budget:    budget,
		threshold: threshold,
		window:    window,
		sink:      cfg.AlertSink,
		metrics:   metrics,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Enqueue records a failed event. Retryable error types enter Pending with a
// scheduled next attempt; hash mismatches and other non-retryable types go
// straight to Failed and wait for human review or an explicit Resurrect.
func (q *DeadLetterQueue) Enqueue(ctx context.Context, event Event, errType ErrorType, cause error) (DeadLetterEntry, error) {
	if q == nil || q.store == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter queue is not configured")
	}

	now := q.now()
	entry := DeadLetterEntry{
		Event:        event,
		ErrorType:    errType,
		ErrorMessage: errorMessage(cause),
		Status:       DeadLetterStatusFailed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if errType.Retryable() {
		next := now.Add(q.backoff.NextDelay(1))
		entry.Status = DeadLetterStatusPending
		entry.NextAttemptAt = &next
	}

	stored, err := q.store.Enqueue(ctx, entry)
	if err != nil {
		return DeadLetterEntry{}, StorageError("core: dead letter enqueue failed", err)
	}
	q.metrics.IncCounter(ctx, "relay.deadletter.enqueued.total", 1, map[string]string{
		"event_type": event.EventType,
		"error_type": string(errType),
	})
	q.checkBacklog(ctx)
	return stored, nil
}

// RunPending claims a batch of due retryable entries and redelivers each one.
// A delivered entry resolves; a failed redelivery reschedules until the retry
// budget is spent, then the entry parks as Failed.
func (q *DeadLetterQueue) RunPending(ctx context.Context, limit int, redeliver RedeliverFunc) (DispatchStats, error) {
	if q == nil || q.store == nil {
		return DispatchStats{}, fmt.Errorf("core: dead letter queue is not configured")
	}
	if redeliver == nil {
		return DispatchStats{}, fmt.Errorf("core: redeliver function is required")
	}
	if limit <= 0 {
		limit = defaultDeadLetterClaimLimit
	}

	entries, err := q.store.ClaimRetryBatch(ctx, limit)
	if err != nil {
		return DispatchStats{}, StorageError("core: dead letter claim batch failed", err)
	}

	stats := DispatchStats{Claimed: len(entries)}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		event := entry.Event
		event.RetryCount = entry.Attempts + 1
		outcome, redeliverErr := redeliver(ctx, event)
		if redeliverErr == nil && deliveredStatus(outcome.Status) {
			if err := q.store.MarkResolved(ctx, entry.ID); err != nil {
				return stats, StorageError("core: dead letter resolve failed", err)
			}
			stats.Delivered++
			q.recordRedelivery(ctx, entry, "delivered")
			continue
		}

		attempts := entry.Attempts + 1
		cause := redeliverErr
		if cause == nil {
			cause = fmt.Errorf("core: redelivery ended as %s", outcome.Status)
		}
		if attempts >= q.budget {
			if err := q.store.MarkFailed(ctx, entry.ID, cause); err != nil {
				return stats, StorageError("core: dead letter fail-out failed", err)
			}
			stats.Failed++
			q.recordRedelivery(ctx, entry, "budget_exhausted")
			continue
		}
		nextAttemptAt := q.now().Add(q.backoff.NextDelay(attempts + 1))
		if err := q.store.Reschedule(ctx, entry.ID, cause, nextAttemptAt); err != nil {
			return stats, StorageError("core: dead letter reschedule failed", err)
		}
		stats.Retried++
		q.recordRedelivery(ctx, entry, "rescheduled")
	}
	return stats, nil
}

// Resurrect moves a Failed entry back to Pending for one more supervised
// round of redelivery. Operator action; the retry budget restarts.
func (q *DeadLetterQueue) Resurrect(ctx context.Context, id string) (DeadLetterEntry, error) {
	if q == nil || q.store == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter queue is not configured")
	}
	entry, err := q.store.Resurrect(ctx, strings.TrimSpace(id))
	if err != nil {
		return DeadLetterEntry{}, err
	}
	q.recordRedelivery(ctx, entry, "resurrected")
	return entry, nil
}

func (q *DeadLetterQueue) Get(ctx context.Context, id string) (DeadLetterEntry, error) {
	if q == nil || q.store == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter queue is not configured")
	}
	return q.store.Get(ctx, strings.TrimSpace(id))
}

func (q *DeadLetterQueue) List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error) {
	if q == nil || q.store == nil {
		return nil, fmt.Errorf("core: dead letter queue is not configured")
	}
	return q.store.List(ctx, filter)
}

func (q *DeadLetterQueue) MarkResolved(ctx context.Context, id string) error {
	if q == nil || q.store == nil {
		return fmt.Errorf("core: dead letter queue is not configured")
	}
	return q.store.MarkResolved(ctx, strings.TrimSpace(id))
}

func (q *DeadLetterQueue) checkBacklog(ctx context.Context) {
	if q == nil || q.sink == nil {
		return
	}
	now := q.now()
	count, err := q.store.PendingCount(ctx, now.Add(-q.window))
	if err != nil || count < q.threshold {
		return
	}
	q.sink.Notify(ctx, DeadLetterAlert{
		PendingCount: count,
		Threshold:    q.threshold,
		Window:       q.window,
		ObservedAt:   now,
	})
}

func (q *DeadLetterQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func (q *DeadLetterQueue) recordRedelivery(ctx context.Context, entry DeadLetterEntry, outcome string) {
	if q == nil || q.metrics == nil {
		return
	}
	q.metrics.IncCounter(ctx, "relay.deadletter.redeliveries.total", 1, map[string]string{
		"event_type": entry.Event.EventType,
		"error_type": string(entry.ErrorType),
		"outcome":    outcome,
	})
}

func deliveredStatus(status DispatchStatus) bool {
	return status == DispatchApplied || status == DispatchAlreadyApplied
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

// MemoryDeadLetterStore keeps dead letters in process memory. Entries do not
// survive restarts; durable deployments use the SQL store.
type MemoryDeadLetterStore struct {
	mu      sync.Mutex
	entries map[string]DeadLetterEntry
	Now     func() time.Time
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{
		entries: map[string]DeadLetterEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryDeadLetterStore) Enqueue(_ context.Context, entry DeadLetterEntry) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter store is nil")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = DeadLetterStatusPending
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter entry %q already exists", entry.ID)
	}
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *MemoryDeadLetterStore) Get(_ context.Context, id string) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(id)]
	if !ok {
		return DeadLetterEntry{}, ErrDeadLetterNotFound
	}
	return entry, nil
}

func (s *MemoryDeadLetterStore) List(_ context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("core: dead letter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]DeadLetterEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.ErrorType != "" && entry.ErrorType != filter.ErrorType {
			continue
		}
		if filter.CorrelationID != "" && entry.Event.CorrelationID != filter.CorrelationID {
			continue
		}
		matches = append(matches, entry)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

func (s *MemoryDeadLetterStore) ClaimRetryBatch(_ context.Context, limit int) ([]DeadLetterEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("core: dead letter store is nil")
	}
	if limit <= 0 {
		limit = defaultDeadLetterClaimLimit
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]DeadLetterEntry, 0, limit)
	for _, entry := range s.entries {
		if entry.Status != DeadLetterStatusPending {
			continue
		}
		if !entry.ErrorType.Retryable() {
			continue
		}
		if entry.NextAttemptAt != nil && entry.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, entry)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	for i, entry := range due {
		entry.Status = DeadLetterStatusRetrying
		entry.UpdatedAt = now
		s.entries[entry.ID] = entry
		due[i] = entry
	}
	return due, nil
}

func (s *MemoryDeadLetterStore) Reschedule(_ context.Context, id string, cause error, nextAttemptAt time.Time) error {
	return s.mutate(id, func(entry DeadLetterEntry) DeadLetterEntry {
		entry.Status = DeadLetterStatusPending
		entry.Attempts++
		entry.ErrorMessage = errorMessage(cause)
		entry.NextAttemptAt = &nextAttemptAt
		return entry
	})
}

func (s *MemoryDeadLetterStore) MarkFailed(_ context.Context, id string, cause error) error {
	return s.mutate(id, func(entry DeadLetterEntry) DeadLetterEntry {
		entry.Status = DeadLetterStatusFailed
		entry.Attempts++
		entry.ErrorMessage = errorMessage(cause)
		entry.NextAttemptAt = nil
		return entry
	})
}

func (s *MemoryDeadLetterStore) MarkResolved(_ context.Context, id string) error {
	return s.mutate(id, func(entry DeadLetterEntry) DeadLetterEntry {
		entry.Status = DeadLetterStatusResolved
		entry.NextAttemptAt = nil
		return entry
	})
}

func (s *MemoryDeadLetterStore) Resurrect(_ context.Context, id string) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter store is nil")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(id)]
	if !ok {
		return DeadLetterEntry{}, ErrDeadLetterNotFound
	}
	if entry.Status != DeadLetterStatusFailed {
		return DeadLetterEntry{}, fmt.Errorf("core: dead letter entry %q is %s, only failed entries can be resurrected", id, entry.Status)
	}
	entry.Status = DeadLetterStatusPending
	entry.Attempts = 0
	entry.NextAttemptAt = &now
	entry.UpdatedAt = now
	s.entries[entry.ID] = entry
	return entry, nil
}

func (s *MemoryDeadLetterStore) PendingCount(_ context.Context, since time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: dead letter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if entry.Status != DeadLetterStatusPending && entry.Status != DeadLetterStatusRetrying {
			continue
		}
		if entry.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryDeadLetterStore) mutate(id string, fn func(DeadLetterEntry) DeadLetterEntry) error {
	if s == nil {
		return fmt.Errorf("core: dead letter store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(id)]
	if !ok {
		return ErrDeadLetterNotFound
	}
	entry = fn(entry)
	entry.UpdatedAt = s.now()
	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryDeadLetterStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ DeadLetterStore = (*MemoryDeadLetterStore)(nil)

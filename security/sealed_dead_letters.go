package security

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-relay/core"
)

// SealedDeadLetterStore encrypts event payloads before they reach the
// underlying store and decrypts them on the way out. Dead letters hold raw
// producer payloads, call transcripts included, so they are the one place the
// pipeline keeps sensitive data at rest for an unbounded time.
//
// The payload hash is computed on plaintext upstream and stored as-is, so
// tamper detection keeps working across encrypt/decrypt round trips.
type SealedDeadLetterStore struct {
	inner    core.DeadLetterStore
	provider core.SecretProvider
}

func NewSealedDeadLetterStore(inner core.DeadLetterStore, provider core.SecretProvider) (*SealedDeadLetterStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("security: dead letter store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("security: secret provider is required")
	}
	return &SealedDeadLetterStore{inner: inner, provider: provider}, nil
}

func (s *SealedDeadLetterStore) Enqueue(ctx context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	sealed, err := s.sealEntry(ctx, entry)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	stored, err := s.inner.Enqueue(ctx, sealed)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	return s.openEntry(ctx, stored)
}

func (s *SealedDeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	entry, err := s.inner.Get(ctx, id)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	return s.openEntry(ctx, entry)
}

func (s *SealedDeadLetterStore) List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, error) {
	entries, err := s.inner.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.openEntries(ctx, entries)
}

func (s *SealedDeadLetterStore) ClaimRetryBatch(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	entries, err := s.inner.ClaimRetryBatch(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.openEntries(ctx, entries)
}

func (s *SealedDeadLetterStore) Reschedule(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	return s.inner.Reschedule(ctx, id, cause, nextAttemptAt)
}

func (s *SealedDeadLetterStore) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.inner.MarkFailed(ctx, id, cause)
}

func (s *SealedDeadLetterStore) MarkResolved(ctx context.Context, id string) error {
	return s.inner.MarkResolved(ctx, id)
}

func (s *SealedDeadLetterStore) Resurrect(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	entry, err := s.inner.Resurrect(ctx, id)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	return s.openEntry(ctx, entry)
}

func (s *SealedDeadLetterStore) PendingCount(ctx context.Context, since time.Time) (int, error) {
	return s.inner.PendingCount(ctx, since)
}

func (s *SealedDeadLetterStore) sealEntry(ctx context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	if len(entry.Event.Payload) == 0 {
		return entry, nil
	}
	ciphertext, err := s.provider.Encrypt(ctx, entry.Event.Payload)
	if err != nil {
		return core.DeadLetterEntry{}, fmt.Errorf("security: seal dead letter payload: %w", err)
	}
	entry.Event.Payload = ciphertext
	return entry, nil
}

func (s *SealedDeadLetterStore) openEntry(ctx context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	if len(entry.Event.Payload) == 0 {
		return entry, nil
	}
	plaintext, err := s.provider.Decrypt(ctx, entry.Event.Payload)
	if err != nil {
		return core.DeadLetterEntry{}, fmt.Errorf("security: open dead letter payload for %q: %w", entry.ID, err)
	}
	entry.Event.Payload = plaintext
	return entry, nil
}

func (s *SealedDeadLetterStore) openEntries(ctx context.Context, entries []core.DeadLetterEntry) ([]core.DeadLetterEntry, error) {
	opened := make([]core.DeadLetterEntry, 0, len(entries))
	for _, entry := range entries {
		plain, err := s.openEntry(ctx, entry)
		if err != nil {
			return nil, err
		}
		opened = append(opened, plain)
	}
	return opened, nil
}

var _ core.DeadLetterStore = (*SealedDeadLetterStore)(nil)

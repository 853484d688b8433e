package inbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
)

type claimState int

const (
	// claimHeld leases the key to one in-flight delivery.
	claimHeld claimState = iota
	// claimReleased means the last attempt failed; the key reopens at retryAt.
	claimReleased
	// claimSettled pins the key until the TTL expires so redeliveries replay.
	claimSettled
)

type claimRecord struct {
	claimID  string
	state    claimState
	attempts int
	ttl      time.Duration
	until    time.Time // lease expiry while held, pin expiry once settled
	retryAt  time.Time
}

// admits reports whether a new claim may take over the key at now.
func (r claimRecord) admits(now time.Time) bool {
	switch r.state {
	case claimHeld, claimSettled:
		return r.until.IsZero() || !now.Before(r.until)
	default:
		return r.retryAt.IsZero() || !now.Before(r.retryAt)
	}
}

// InMemoryClaimStore is the process-local transport dedup ledger. Suitable
// for single-instance deployments and tests; multi-instance deployments back
// the dispatcher with the SQL idempotency store instead.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	records map[string]claimRecord
	index   map[string]string // claim id -> key
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		records: map[string]claimRecord{},
		index:   map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: idempotency key is required", nil)
	}
	if lease <= 0 {
		lease = DefaultClaimTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropExpiredLocked(now)

	record, exists := s.records[key]
	if exists && !record.admits(now) {
		return "", false, nil
	}
	if record.claimID != "" {
		delete(s.index, record.claimID)
	}
	record.claimID = uuid.NewString()
	record.state = claimHeld
	record.attempts++
	record.ttl = lease
	record.until = now.Add(lease)
	record.retryAt = time.Time{}
	s.records[key] = record
	s.index[record.claimID] = key
	return record.claimID, true, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.resolve(claimID, func(record claimRecord, now time.Time) claimRecord {
		ttl := record.ttl
		if ttl <= 0 {
			ttl = DefaultClaimTTL
		}
		record.state = claimSettled
		record.until = now.Add(ttl)
		record.retryAt = time.Time{}
		return record
	})
}

func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.resolve(claimID, func(record claimRecord, now time.Time) claimRecord {
		if retryAt.IsZero() {
			retryAt = now
		}
		record.state = claimReleased
		record.retryAt = retryAt.UTC()
		record.until = time.Time{}
		return record
	})
}

// resolve applies a settlement to the record behind a claim id. Stale claim
// ids (superseded after a lease expiry) are dropped without touching the
// current record.
func (s *InMemoryClaimStore) resolve(claimID string, settle func(claimRecord, time.Time) claimRecord) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.index[claimID]
	if !ok {
		return nil
	}
	delete(s.index, claimID)
	record, exists := s.records[key]
	if !exists || record.claimID != claimID || record.state != claimHeld {
		return nil
	}
	s.records[key] = settle(record, s.now())
	return nil
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) dropExpiredLocked(now time.Time) {
	for key, record := range s.records {
		if record.state != claimSettled {
			continue
		}
		if record.until.IsZero() || !now.Before(record.until) {
			if record.claimID != "" {
				delete(s.index, record.claimID)
			}
			delete(s.records, key)
		}
	}
}

var _ core.InboundClaimStore = (*InMemoryClaimStore)(nil)

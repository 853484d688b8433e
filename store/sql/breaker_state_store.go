package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
	"github.com/uptrace/bun"
)

// BreakerStateStore persists per-endpoint circuit state with optimistic
// versioned writes. Version 0 means insert-if-absent; every successful swap
// bumps the version, so a stale writer always loses and re-reads.
type BreakerStateStore struct {
	db *bun.DB
}

func NewBreakerStateStore(db *bun.DB) (*BreakerStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &BreakerStateStore{db: db}, nil
}

func (s *BreakerStateStore) Get(ctx context.Context, endpointKey string) (core.BreakerState, error) {
	if s == nil || s.db == nil {
		return core.BreakerState{}, fmt.Errorf("sqlstore: breaker state store is not configured")
	}
	endpointKey = strings.TrimSpace(endpointKey)
	if endpointKey == "" {
		return core.BreakerState{}, fmt.Errorf("sqlstore: endpoint key is required")
	}
	row := &breakerStateRow{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.endpoint_key = ?", endpointKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.BreakerState{}, core.ErrBreakerStateNotFound
		}
		return core.BreakerState{}, err
	}
	return row.toDomain(), nil
}

func (s *BreakerStateStore) CompareAndSwap(ctx context.Context, next core.BreakerState) (core.BreakerState, bool, error) {
	if s == nil || s.db == nil {
		return core.BreakerState{}, false, fmt.Errorf("sqlstore: breaker state store is not configured")
	}
	next.EndpointKey = strings.TrimSpace(next.EndpointKey)
	if next.EndpointKey == "" {
		return core.BreakerState{}, false, fmt.Errorf("sqlstore: endpoint key is required")
	}
	now := time.Now().UTC()

	if next.Version == 0 {
		next.Version = 1
		next.UpdatedAt = now
		row := newBreakerStateRow(next, now)
		if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				current, getErr := s.Get(ctx, next.EndpointKey)
				if getErr != nil {
					return core.BreakerState{}, false, getErr
				}
				return current, false, nil
			}
			return core.BreakerState{}, false, err
		}
		return next, true, nil
	}

	expectedVersion := next.Version
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	row := newBreakerStateRow(next, now)
	result, err := s.db.NewUpdate().
		Model(row).
		Column("phase", "failure_count", "opened_at", "version", "updated_at").
		Where("endpoint_key = ?", next.EndpointKey).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.BreakerState{}, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.BreakerState{}, false, err
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, next.EndpointKey)
		if getErr != nil {
			if errors.Is(getErr, core.ErrBreakerStateNotFound) {
				return core.BreakerState{}, false, nil
			}
			return core.BreakerState{}, false, getErr
		}
		return current, false, nil
	}
	return next, true, nil
}

var _ core.BreakerStateStore = (*BreakerStateStore)(nil)

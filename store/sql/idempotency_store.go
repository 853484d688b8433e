package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-relay/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// IdempotencyStore persists accepted payload hashes with insert-if-absent
// claim semantics. The unique index on (correlation_id, event_type) is the
// arbiter: exactly one concurrent claimer gets the insert, everyone else
// observes the winner's row.
type IdempotencyStore struct {
	db   *bun.DB
	repo repository.Repository[*idempotencyRecordRow]
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*idempotencyRecordRow](db, idempotencyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid idempotency repository wiring: %w", err)
		}
	}
	return &IdempotencyStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, correlationID, eventType string) (core.IdempotencyRecord, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyRecord{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	row := &idempotencyRecordRow{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.correlation_id = ?", strings.TrimSpace(correlationID)).
		Where("?TableAlias.event_type = ?", strings.TrimSpace(eventType)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.IdempotencyRecord{}, core.ErrIdempotencyRecordNotFound
		}
		return core.IdempotencyRecord{}, err
	}
	return row.toDomain(), nil
}

func (s *IdempotencyStore) Claim(ctx context.Context, record core.IdempotencyRecord) (core.IdempotencyClaim, error) {
	if s == nil || s.db == nil {
		return core.IdempotencyClaim{}, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	if err := record.Validate(); err != nil {
		return core.IdempotencyClaim{}, err
	}

	now := time.Now().UTC()
	row := &idempotencyRecordRow{
		ID:            uuid.NewString(),
		CorrelationID: strings.TrimSpace(record.CorrelationID),
		EventType:     strings.TrimSpace(record.EventType),
		PayloadHash:   strings.TrimSpace(record.PayloadHash),
		Status:        idempotencyStatusInFlight,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, row.CorrelationID, row.EventType)
			if getErr != nil {
				return core.IdempotencyClaim{}, getErr
			}
			return core.IdempotencyClaim{Accepted: false, Existing: existing}, nil
		}
		return core.IdempotencyClaim{}, err
	}
	return core.IdempotencyClaim{ClaimID: row.ID, Accepted: true}, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, claimID, targetRecordID string, appliedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	appliedAtUTC := appliedAt.UTC()
	result, err := s.db.NewUpdate().
		Model((*idempotencyRecordRow)(nil)).
		Set("status = ?", idempotencyStatusApplied).
		Set("target_record_id = ?", strings.TrimSpace(targetRecordID)).
		Set("last_applied_at = ?", appliedAtUTC).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", claimID).
		Where("status = ?", idempotencyStatusInFlight).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: idempotency claim %q no longer holds its record", claimID)
	}
	return nil
}

func (s *IdempotencyStore) Fail(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	// Only in-flight claims are released; an applied record is permanent.
	_, err := s.db.NewDelete().
		Model((*idempotencyRecordRow)(nil)).
		Where("id = ?", claimID).
		Where("status = ?", idempotencyStatusInFlight).
		Exec(ctx)
	return err
}

var _ core.IdempotencyRecordStore = (*IdempotencyStore)(nil)

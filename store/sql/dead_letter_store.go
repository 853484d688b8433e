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

const defaultClaimBatchLimit = 25

// DeadLetterStore is the durable ledger of events that exhausted retries or
// failed non-retryable checks. ClaimRetryBatch runs inside a transaction so
// two pollers never redeliver the same entry.
type DeadLetterStore struct {
	db   *bun.DB
	repo repository.Repository[*deadLetterRow]
}

func NewDeadLetterStore(db *bun.DB) (*DeadLetterStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deadLetterRow](db, deadLetterHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid dead letter repository wiring: %w", err)
		}
	}
	return &DeadLetterStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *DeadLetterStore) Enqueue(ctx context.Context, entry core.DeadLetterEntry) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = core.DeadLetterStatusPending
	}
	row := newDeadLetterRow(entry, time.Now().UTC())
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return core.DeadLetterEntry{}, err
	}
	return row.toDomain(), nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	row := &deadLetterRow{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.DeadLetterEntry{}, core.ErrDeadLetterNotFound
		}
		return core.DeadLetterEntry{}, err
	}
	return row.toDomain(), nil
}

func (s *DeadLetterStore) List(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	var rows []*deadLetterRow
	query := s.db.NewSelect().
		Model(&rows).
		OrderExpr("?TableAlias.created_at ASC")
	if filter.Status != "" {
		query = query.Where("?TableAlias.status = ?", string(filter.Status))
	}
	if filter.ErrorType != "" {
		query = query.Where("?TableAlias.error_type = ?", string(filter.ErrorType))
	}
	if strings.TrimSpace(filter.CorrelationID) != "" {
		query = query.Where("?TableAlias.correlation_id = ?", strings.TrimSpace(filter.CorrelationID))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	entries := make([]core.DeadLetterEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

func (s *DeadLetterStore) ClaimRetryBatch(ctx context.Context, limit int) ([]core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	if limit <= 0 {
		limit = defaultClaimBatchLimit
	}
	now := time.Now().UTC()

	var claimed []core.DeadLetterEntry
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var rows []*deadLetterRow
		err := tx.NewSelect().
			Model(&rows).
			Where("?TableAlias.status = ?", string(core.DeadLetterStatusPending)).
			Where("?TableAlias.error_type IN (?)", bun.In(retryableErrorTypes())).
			Where("?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?", now).
			OrderExpr("?TableAlias.created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		claimed = make([]core.DeadLetterEntry, 0, len(rows))
		for _, row := range rows {
			result, updateErr := tx.NewUpdate().
				Model((*deadLetterRow)(nil)).
				Set("status = ?", string(core.DeadLetterStatusRetrying)).
				Set("updated_at = ?", now).
				Where("id = ?", row.ID).
				Where("status = ?", string(core.DeadLetterStatusPending)).
				Exec(ctx)
			if updateErr != nil {
				return updateErr
			}
			affected, affErr := result.RowsAffected()
			if affErr != nil {
				return affErr
			}
			if affected == 0 {
				continue
			}
			row.Status = string(core.DeadLetterStatusRetrying)
			row.UpdatedAt = now
			claimed = append(claimed, row.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *DeadLetterStore) Reschedule(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	return s.mutate(ctx, id, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("status = ?", string(core.DeadLetterStatusPending)).
			Set("attempts = attempts + 1").
			Set("error_message = ?", errorMessage(cause)).
			Set("next_attempt_at = ?", nextAttemptAt.UTC())
	})
}

func (s *DeadLetterStore) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.mutate(ctx, id, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("status = ?", string(core.DeadLetterStatusFailed)).
			Set("attempts = attempts + 1").
			Set("error_message = ?", errorMessage(cause)).
			Set("next_attempt_at = NULL")
	})
}

func (s *DeadLetterStore) MarkResolved(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(query *bun.UpdateQuery) *bun.UpdateQuery {
		return query.
			Set("status = ?", string(core.DeadLetterStatusResolved)).
			Set("next_attempt_at = NULL")
	})
}

func (s *DeadLetterStore) Resurrect(ctx context.Context, id string) (core.DeadLetterEntry, error) {
	if s == nil || s.db == nil {
		return core.DeadLetterEntry{}, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	id = strings.TrimSpace(id)
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*deadLetterRow)(nil)).
		Set("status = ?", string(core.DeadLetterStatusPending)).
		Set("attempts = 0").
		Set("next_attempt_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(core.DeadLetterStatusFailed)).
		Exec(ctx)
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.DeadLetterEntry{}, err
	}
	if affected == 0 {
		entry, getErr := s.Get(ctx, id)
		if getErr != nil {
			return core.DeadLetterEntry{}, getErr
		}
		return core.DeadLetterEntry{}, fmt.Errorf(
			"sqlstore: dead letter entry %q is %s, only failed entries can be resurrected",
			id,
			entry.Status,
		)
	}
	return s.Get(ctx, id)
}

func (s *DeadLetterStore) PendingCount(ctx context.Context, since time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	count, err := s.db.NewSelect().
		Model((*deadLetterRow)(nil)).
		Where("?TableAlias.status IN (?)", bun.In([]string{
			string(core.DeadLetterStatusPending),
			string(core.DeadLetterStatusRetrying),
		})).
		Where("?TableAlias.created_at >= ?", since.UTC()).
		Count(ctx)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *DeadLetterStore) mutate(ctx context.Context, id string, apply func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dead letter store is not configured")
	}
	query := s.db.NewUpdate().
		Model((*deadLetterRow)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	result, err := apply(query).Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrDeadLetterNotFound
	}
	return nil
}

func retryableErrorTypes() []string {
	types := []core.ErrorType{
		core.ErrorTypeTimeout,
		core.ErrorTypeNetwork,
		core.ErrorTypeCircuitOpen,
	}
	out := make([]string, 0, len(types))
	for _, errType := range types {
		if errType.Retryable() {
			out = append(out, string(errType))
		}
	}
	return out
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}

var _ core.DeadLetterStore = (*DeadLetterStore)(nil)

package query

import (
	"context"

	"github.com/goliatone/go-relay/core"
)

type BreakerStateReader interface {
	GetBreakerState(ctx context.Context, endpointKey string) (core.BreakerState, error)
}

type DeadLetterReader interface {
	GetDeadLetter(ctx context.Context, id string) (core.DeadLetterEntry, error)
	ListDeadLetters(ctx context.Context, filter core.DeadLetterFilter) ([]core.DeadLetterEntry, error)
}

type IdempotencyReader interface {
	CheckIdempotency(ctx context.Context, correlationID string, eventType string) (core.IdempotencyRecord, error)
}

type GetBreakerStateQuery struct {
	reader BreakerStateReader
}

func NewGetBreakerStateQuery(reader BreakerStateReader) *GetBreakerStateQuery {
	return &GetBreakerStateQuery{reader: reader}
}

func (q *GetBreakerStateQuery) Query(ctx context.Context, msg GetBreakerStateMessage) (core.BreakerState, error) {
	if q == nil || q.reader == nil {
		return core.BreakerState{}, queryDependencyError("query: breaker state reader is required")
	}
	return q.reader.GetBreakerState(ctx, msg.EndpointKey)
}

type ListDeadLettersQuery struct {
	reader DeadLetterReader
}

func NewListDeadLettersQuery(reader DeadLetterReader) *ListDeadLettersQuery {
	return &ListDeadLettersQuery{reader: reader}
}

func (q *ListDeadLettersQuery) Query(
	ctx context.Context,
	msg ListDeadLettersMessage,
) ([]core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: dead letter reader is required")
	}
	return q.reader.ListDeadLetters(ctx, msg.Filter)
}

type GetDeadLetterQuery struct {
	reader DeadLetterReader
}

func NewGetDeadLetterQuery(reader DeadLetterReader) *GetDeadLetterQuery {
	return &GetDeadLetterQuery{reader: reader}
}

func (q *GetDeadLetterQuery) Query(ctx context.Context, msg GetDeadLetterMessage) (core.DeadLetterEntry, error) {
	if q == nil || q.reader == nil {
		return core.DeadLetterEntry{}, queryDependencyError("query: dead letter reader is required")
	}
	return q.reader.GetDeadLetter(ctx, msg.ID)
}

type CheckIdempotencyQuery struct {
	reader IdempotencyReader
}

func NewCheckIdempotencyQuery(reader IdempotencyReader) *CheckIdempotencyQuery {
	return &CheckIdempotencyQuery{reader: reader}
}

func (q *CheckIdempotencyQuery) Query(
	ctx context.Context,
	msg CheckIdempotencyMessage,
) (core.IdempotencyRecord, error) {
	if q == nil || q.reader == nil {
		return core.IdempotencyRecord{}, queryDependencyError("query: idempotency reader is required")
	}
	return q.reader.CheckIdempotency(ctx, msg.CorrelationID, msg.EventType)
}

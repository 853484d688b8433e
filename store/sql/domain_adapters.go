package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

const (
	idempotencyStatusInFlight = "in_flight"
	idempotencyStatusApplied  = "applied"
)

func (r *idempotencyRecordRow) toDomain() core.IdempotencyRecord {
	if r == nil {
		return core.IdempotencyRecord{}
	}
	record := core.IdempotencyRecord{
		CorrelationID:  r.CorrelationID,
		EventType:      r.EventType,
		PayloadHash:    r.PayloadHash,
		TargetRecordID: r.TargetRecordID,
	}
	if r.LastAppliedAt != nil {
		record.LastAppliedAt = *r.LastAppliedAt
	}
	return record
}

func newDeadLetterRow(entry core.DeadLetterEntry, now time.Time) *deadLetterRow {
	row := &deadLetterRow{
		ID:            entry.ID,
		CorrelationID: entry.Event.CorrelationID,
		EventType:     entry.Event.EventType,
		Payload:       append([]byte(nil), entry.Event.Payload...),
		PayloadHash:   entry.Event.PayloadHash,
		Metadata:      copyAnyMap(entry.Event.Metadata),
		ErrorType:     string(entry.ErrorType),
		ErrorMessage:  entry.ErrorMessage,
		Status:        string(entry.Status),
		Attempts:      entry.Attempts,
		NextAttemptAt: copyTimePointer(entry.NextAttemptAt),
		CreatedAt:     entry.CreatedAt,
		UpdatedAt:     now,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if !entry.Event.ReceivedAt.IsZero() {
		receivedAt := entry.Event.ReceivedAt.UTC()
		row.ReceivedAt = &receivedAt
	}
	return row
}

func (r *deadLetterRow) toDomain() core.DeadLetterEntry {
	if r == nil {
		return core.DeadLetterEntry{}
	}
	entry := core.DeadLetterEntry{
		ID: r.ID,
		Event: core.Event{
			CorrelationID: r.CorrelationID,
			EventType:     r.EventType,
			Payload:       append([]byte(nil), r.Payload...),
			PayloadHash:   r.PayloadHash,
			Metadata:      copyAnyMap(r.Metadata),
		},
		ErrorType:     core.ErrorType(r.ErrorType),
		ErrorMessage:  r.ErrorMessage,
		Status:        core.DeadLetterStatus(r.Status),
		Attempts:      r.Attempts,
		NextAttemptAt: copyTimePointer(r.NextAttemptAt),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ReceivedAt != nil {
		entry.Event.ReceivedAt = *r.ReceivedAt
	}
	return entry
}

func newBreakerStateRow(state core.BreakerState, now time.Time) *breakerStateRow {
	return &breakerStateRow{
		EndpointKey:  strings.TrimSpace(state.EndpointKey),
		Phase:        string(state.Phase),
		FailureCount: state.FailureCount,
		OpenedAt:     copyTimePointer(state.OpenedAt),
		Version:      state.Version,
		UpdatedAt:    now,
	}
}

func (r *breakerStateRow) toDomain() core.BreakerState {
	if r == nil {
		return core.BreakerState{}
	}
	return core.BreakerState{
		EndpointKey:  r.EndpointKey,
		Phase:        core.BreakerPhase(r.Phase),
		FailureCount: r.FailureCount,
		OpenedAt:     copyTimePointer(r.OpenedAt),
		UpdatedAt:    r.UpdatedAt,
		Version:      r.Version,
	}
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func copyTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

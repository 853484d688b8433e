package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type idempotencyRecordRow struct {
	bun.BaseModel `bun:"table:relay_idempotency_records,alias:rir"`

	ID             string     `bun:"id,pk"`
	CorrelationID  string     `bun:"correlation_id,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	PayloadHash    string     `bun:"payload_hash,notnull"`
	TargetRecordID string     `bun:"target_record_id"`
	Status         string     `bun:"status,notnull"`
	LastAppliedAt  *time.Time `bun:"last_applied_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deadLetterRow struct {
	bun.BaseModel `bun:"table:relay_dead_letters,alias:rdl"`

	ID            string         `bun:"id,pk"`
	CorrelationID string         `bun:"correlation_id,notnull"`
	EventType     string         `bun:"event_type,notnull"`
	Payload       []byte         `bun:"payload,notnull"`
	PayloadHash   string         `bun:"payload_hash,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	ErrorType     string         `bun:"error_type,notnull"`
	ErrorMessage  string         `bun:"error_message"`
	Status        string         `bun:"status,notnull"`
	Attempts      int            `bun:"attempts,notnull"`
	NextAttemptAt *time.Time     `bun:"next_attempt_at,nullzero"`
	ReceivedAt    *time.Time     `bun:"received_at,nullzero"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type breakerStateRow struct {
	bun.BaseModel `bun:"table:relay_breaker_states,alias:rbs"`

	EndpointKey  string     `bun:"endpoint_key,pk"`
	Phase        string     `bun:"phase,notnull"`
	FailureCount int        `bun:"failure_count,notnull"`
	OpenedAt     *time.Time `bun:"opened_at,nullzero"`
	Version      int64      `bun:"version,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

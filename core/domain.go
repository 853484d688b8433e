package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	EventTypeCallStarted       = "call_started"
	EventTypeCallCompleted     = "call_completed"
	EventTypeCallFailed        = "call_failed"
	EventTypeCampaignStarted   = "campaign_started"
	EventTypeCampaignCompleted = "campaign_completed"
	EventTypeTranscriptReady   = "transcript_ready"
)

// Event is a single inbound lifecycle notification from the producer.
// Immutable once received; RetryCount is the only field the pipeline
// mutates, and it never participates in the payload hash.
type Event struct {
	CorrelationID string
	EventType     string
	Payload       []byte
	PayloadHash   string
	ReceivedAt    time.Time
	RetryCount    int
	Metadata      map[string]any
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return fmt.Errorf("core: event type is required")
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("core: event payload is required")
	}
	return nil
}

// HashPayload derives the idempotency payload hash. Only payload bytes are
// hashed: timestamps and retry counters must not change the hash across
// transport-level redeliveries of the same logical event.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// EnsurePayloadHash returns the event with PayloadHash populated.
func EnsurePayloadHash(event Event) Event {
	if strings.TrimSpace(event.PayloadHash) == "" {
		event.PayloadHash = HashPayload(event.Payload)
	}
	return event
}

// CachedToken is the whole-value cached credential. TokenCache replaces the
// entire value on refresh; it is never mutated field by field.
type CachedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Fresh reports whether the token is still usable at now with the configured
// safety buffer ahead of expiry. The buffer must exceed one round-trip so a
// token never expires mid-flight.
func (t CachedToken) Fresh(now time.Time, safetyBuffer time.Duration) bool {
	if strings.TrimSpace(t.Value) == "" || t.ExpiresAt.IsZero() {
		return false
	}
	if safetyBuffer < 0 {
		safetyBuffer = 0
	}
	return now.Add(safetyBuffer).Before(t.ExpiresAt)
}

type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState is the per-endpoint circuit state. Version is the
// compare-and-swap token used by BreakerStateStore implementations.
type BreakerState struct {
	EndpointKey  string
	Phase        BreakerPhase
	FailureCount int
	OpenedAt     *time.Time
	UpdatedAt    time.Time
	Version      int64
}

// IdempotencyRecord pins the accepted payload hash for a
// (correlation id, event type) pair. At most one hash is ever accepted per
// pair; a second hash is a tamper signal, not an update.
type IdempotencyRecord struct {
	CorrelationID  string
	EventType      string
	PayloadHash    string
	TargetRecordID string
	LastAppliedAt  time.Time
}

func (r IdempotencyRecord) Key() string {
	return strings.TrimSpace(r.CorrelationID) + "|" + strings.TrimSpace(r.EventType)
}

func (r IdempotencyRecord) Validate() error {
	if strings.TrimSpace(r.CorrelationID) == "" {
		return fmt.Errorf("core: idempotency correlation id is required")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return fmt.Errorf("core: idempotency event type is required")
	}
	if strings.TrimSpace(r.PayloadHash) == "" {
		return fmt.Errorf("core: idempotency payload hash is required")
	}
	return nil
}

// ErrorType classifies a dispatch failure for retry policy and dead-letter
// triage.
type ErrorType string

const (
	ErrorTypeAuth         ErrorType = "auth"
	ErrorTypeCircuitOpen  ErrorType = "circuit_open"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeNetwork      ErrorType = "network"
	ErrorTypeClient       ErrorType = "client"
	ErrorTypeHashMismatch ErrorType = "hash_mismatch"
	ErrorTypeStorage      ErrorType = "storage"
)

// Retryable reports whether dead-letter redelivery may pick the entry up
// automatically. Hash mismatches and auth/permission failures always require
// human review.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeNetwork, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

type DeadLetterStatus string

const (
	DeadLetterStatusPending  DeadLetterStatus = "pending"
	DeadLetterStatusRetrying DeadLetterStatus = "retrying"
	DeadLetterStatusFailed   DeadLetterStatus = "failed"
	DeadLetterStatusResolved DeadLetterStatus = "resolved"
)

type DeadLetterEntry struct {
	ID            string
	Event         Event
	ErrorType     ErrorType
	ErrorMessage  string
	Status        DeadLetterStatus
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type DeadLetterFilter struct {
	Status        DeadLetterStatus
	ErrorType     ErrorType
	CorrelationID string
	Limit         int
}

type DispatchStatus string

const (
	DispatchApplied        DispatchStatus = "applied"
	DispatchAlreadyApplied DispatchStatus = "already_applied"
	DispatchDeadLettered   DispatchStatus = "dead_lettered"
	DispatchRejected       DispatchStatus = "rejected"
)

// DispatchOutcome is the typed result of one dispatch. Expected failure
// modes surface here, never as bare errors.
type DispatchOutcome struct {
	Status         DispatchStatus
	CorrelationID  string
	TargetRecordID string
	ErrorType      ErrorType
	Attempts       int
	Metadata       map[string]any
}

type ApplyResultKind string

const (
	ApplyCreated        ApplyResultKind = "created"
	ApplyAlreadyApplied ApplyResultKind = "already_applied"
)

type ApplyResult struct {
	Kind           ApplyResultKind
	Record         IdempotencyRecord
	TargetRecordID string
}

// Endpoint describes one logical consumer endpoint. Key scopes breaker state;
// Timeout bounds the outbound call.
type Endpoint struct {
	Key     string
	Method  string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("core: endpoint key is required")
	}
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("core: endpoint url is required")
	}
	return nil
}

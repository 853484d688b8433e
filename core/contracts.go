package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// MintedToken is the raw credential returned by a minter before caching.
type MintedToken struct {
	Value     string
	ExpiresIn time.Duration
}

// TokenMinter performs the credential exchange against the issuer. Called at
// most once per stale window per credential key; see TokenCache.
type TokenMinter interface {
	Mint(ctx context.Context, credentialKey string) (MintedToken, error)
}

// BreakerStateStore holds per-endpoint circuit state. Get returns
// ErrBreakerStateNotFound for unseen keys. CompareAndSwap persists next only
// when the stored version still equals next.Version; implementations return
// the winning state and false on a lost race. Version 0 means insert-if-absent.
type BreakerStateStore interface {
	Get(ctx context.Context, endpointKey string) (BreakerState, error)
	CompareAndSwap(ctx context.Context, next BreakerState) (BreakerState, bool, error)
}

// IdempotencyClaim is the in-flight reservation returned by Claim.
type IdempotencyClaim struct {
	ClaimID  string
	Accepted bool
	Existing IdempotencyRecord
}

// IdempotencyRecordStore persists accepted payload hashes with
// insert-if-absent semantics. Claim must be atomic relative to concurrent
// claims for the same (correlation id, event type) pair: exactly one caller
// is accepted, the rest observe the existing record. Complete finalizes the
// applied record; Fail releases the claim so redelivery can reapply.
type IdempotencyRecordStore interface {
	Get(ctx context.Context, correlationID string, eventType string) (IdempotencyRecord, error)
	Claim(ctx context.Context, record IdempotencyRecord) (IdempotencyClaim, error)
	Complete(ctx context.Context, claimID string, targetRecordID string, appliedAt time.Time) error
	Fail(ctx context.Context, claimID string) error
}

// ApplyFunc performs the actual consumer-side upsert for an accepted event.
// Supplied by the consumer-integration layer; the guard never inspects it.
type ApplyFunc func(ctx context.Context, event Event) (targetRecordID string, err error)

// DeadLetterStore is the durable record of events that exhausted retries or
// failed non-retryable checks. Entries are never silently dropped.
type DeadLetterStore interface {
	Enqueue(ctx context.Context, entry DeadLetterEntry) (DeadLetterEntry, error)
	Get(ctx context.Context, id string) (DeadLetterEntry, error)
	List(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error)
	// ClaimRetryBatch atomically moves due retryable pending entries to
	// Retrying and returns them, oldest first.
	ClaimRetryBatch(ctx context.Context, limit int) ([]DeadLetterEntry, error)
	Reschedule(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
	MarkResolved(ctx context.Context, id string) error
	Resurrect(ctx context.Context, id string) (DeadLetterEntry, error)
	PendingCount(ctx context.Context, since time.Time) (int, error)
}

// DeadLetterAlert fires when the pending backlog crosses the configured
// threshold inside the rolling window.
type DeadLetterAlert struct {
	PendingCount int
	Threshold    int
	Window       time.Duration
	ObservedAt   time.Time
}

// AlertSink receives backlog alerts. The host application owns the actual
// notification channel; this module only emits the signal.
type AlertSink interface {
	Notify(ctx context.Context, alert DeadLetterAlert)
}

// SecretProvider seals sensitive payloads at rest. Implementations must
// return ciphertext that decrypts to the exact plaintext it was given.
type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// ConsumerRequest is one outbound delivery attempt to the consumer API.
type ConsumerRequest struct {
	EndpointKey   string
	Method        string
	URL           string
	Headers       map[string]string
	Body          []byte
	Timeout       time.Duration
	CorrelationID string
	BearerToken   string
}

type ConsumerResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// ConsumerTransport executes the outbound call. Implementations must honor
// ConsumerRequest.Timeout and context cancellation.
type ConsumerTransport interface {
	Do(ctx context.Context, req ConsumerRequest) (ConsumerResponse, error)
}

// EndpointResolver maps an event to the consumer endpoint it targets.
type EndpointResolver interface {
	Resolve(event Event) (Endpoint, error)
}

// EventSource is the producer-side stream contract: at-least-once delivery,
// no ordering, no dedup.
type EventSource interface {
	ReceiveEvent(ctx context.Context) (Event, error)
}

// BackoffScheduler computes the delay before retry attempt n (1-based).
type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// DispatchStats aggregates one dead-letter redelivery pass.
type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// InboundRequest is one raw producer delivery before it becomes an Event:
// a webhook POST carrying a lifecycle notification or an operator action.
type InboundRequest struct {
	SourceID string
	Surface  string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

type InboundHandler interface {
	Surface() string
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

// InboundClaimStore provides lease-based transport dedup for producer
// deliveries. Claim accepts the first caller for a key and leases it; a
// failed handler releases the claim via Fail so the producer's redelivery
// can be accepted, while Complete pins the key for the TTL.
type InboundClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// JobExecutionMessage is the queue-facing envelope for background work:
// scheduled dead-letter redelivery passes and queued event dispatches.
type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

// JobEnqueueReceipt is the queue's acceptance record for an enqueued message.
type JobEnqueueReceipt struct {
	DispatchID string
	EnqueuedAt time.Time
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) (JobEnqueueReceipt, error)
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Package inbound receives raw producer deliveries before they become
// pipeline events.
//
// Producer-originated paths use claim/complete/fail idempotency semantics so
// transient handler failures remain retryable while accepted deliveries are
// deduped for the key TTL. This is transport-level dedup only; the durable
// (correlation id, event type, payload hash) guard lives in core.
package inbound

// Package core implements the resilient event-relay pipeline: token caching
// with single-flight refresh, per-endpoint circuit breaking, idempotent event
// application keyed on (correlation id, event type, payload hash), bounded
// retry dispatch, and dead-letter handling with scheduled redelivery.
//
// The package owns orchestration and in-memory reference stores. Durable
// store implementations live in store/sql; outbound HTTP lives in transport;
// token minting strategies live in auth.
package core

package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const (
	// SurfaceEvent carries producer lifecycle notifications (call and
	// campaign events, transcripts).
	SurfaceEvent = "event"
	// SurfaceOperator carries operator actions: dead-letter retries,
	// breaker trips and resets.
	SurfaceOperator = "operator"
	// SurfaceCallback carries producer status callbacks that do not map to
	// a lifecycle event.
	SurfaceCallback = "callback"
)

var supportedSurfaces = map[string]struct{}{
	SurfaceEvent:    {},
	SurfaceOperator: {},
	SurfaceCallback: {},
}

// DefaultClaimTTL is how long a dedup key pins out producer redeliveries
// after a settled delivery, and the lease granted to an in-flight one.
const DefaultClaimTTL = 10 * time.Minute

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type IdempotencyKeyExtractor func(req core.InboundRequest) (string, error)

// Dispatcher is the single front door for producer deliveries. Every
// delivery, whatever the surface, passes the same gauntlet: verification,
// a correlation-scoped dedup claim, the surface handler, then settlement
// that decides whether the producer should redeliver.
type Dispatcher struct {
	Verifier   Verifier
	Store      core.InboundClaimStore
	ExtractKey IdempotencyKeyExtractor
	KeyTTL     time.Duration

	mu       sync.RWMutex
	handlers map[string]core.InboundHandler
}

func NewDispatcher(verifier Verifier, store core.InboundClaimStore) *Dispatcher {
	return &Dispatcher{
		Verifier:   verifier,
		Store:      store,
		ExtractKey: DefaultIdempotencyKeyExtractor,
		KeyTTL:     DefaultClaimTTL,
		handlers:   map[string]core.InboundHandler{},
	}
}

func (d *Dispatcher) Register(handler core.InboundHandler) error {
	if d == nil {
		return inboundInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return inboundBadInput("inbound: handler is nil", nil)
	}
	surface := normalizeSurface(handler.Surface())
	if _, ok := supportedSurfaces[surface]; !ok {
		return inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", surface),
			map[string]any{"surface": surface},
		)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, taken := d.handlers[surface]; taken {
		return inboundError(
			fmt.Sprintf("inbound: surface %q already has a handler", surface),
			goerrors.CategoryConflict,
			http.StatusConflict,
			core.RelayErrorConflict,
			map[string]any{"surface": surface},
		)
	}
	d.handlers[surface] = handler
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d == nil {
		return core.InboundResult{}, inboundInternal("inbound: dispatcher is nil", nil)
	}
	req, err := normalizeRequest(req)
	if err != nil {
		return core.InboundResult{}, err
	}
	if result, err := d.verify(ctx, req); err != nil {
		return result, err
	}

	// Resolve the handler before claiming so a misrouted delivery never
	// burns a dedup slot.
	handler := d.handlerFor(req.Surface)
	if handler == nil {
		return core.InboundResult{}, inboundError(
			fmt.Sprintf("inbound: no handler registered for surface %q", req.Surface),
			goerrors.CategoryNotFound,
			http.StatusNotFound,
			core.RelayErrorNotFound,
			requestFields(req),
		)
	}

	claimID, replay, err := d.claimDelivery(ctx, req)
	if err != nil {
		return core.InboundResult{}, err
	}
	if replay != nil {
		return *replay, nil
	}

	result, handlerErr := handler.Handle(ctx, req)
	return d.settle(ctx, req, claimID, result, handlerErr)
}

func normalizeRequest(req core.InboundRequest) (core.InboundRequest, error) {
	req.SourceID = strings.TrimSpace(req.SourceID)
	req.Surface = normalizeSurface(req.Surface)
	if req.SourceID == "" {
		return req, inboundBadInput("inbound: source id is required", map[string]any{
			"surface": req.Surface,
		})
	}
	if _, ok := supportedSurfaces[req.Surface]; !ok {
		return req, inboundBadInput(
			fmt.Sprintf("inbound: unsupported surface %q", req.Surface),
			requestFields(req),
		)
	}
	return req, nil
}

func (d *Dispatcher) verify(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if d.Verifier == nil {
		return core.InboundResult{}, nil
	}
	if err := d.Verifier.Verify(ctx, req); err != nil {
		rejected := requestFields(req)
		rejected["rejected"] = true
		return core.InboundResult{
				Accepted:   false,
				StatusCode: http.StatusUnauthorized,
				Metadata:   rejected,
			}, inboundWrapError(
				err,
				goerrors.CategoryAuth,
				"inbound: request verification failed",
				http.StatusUnauthorized,
				core.RelayErrorUnauthorized,
				requestFields(req),
			)
	}
	return core.InboundResult{}, nil
}

// claimDelivery leases the delivery's dedup key. A lost claim means the
// producer redelivered something already handled (or still in flight), so
// the caller gets a ready-made replay acknowledgment instead of a handler
// invocation.
func (d *Dispatcher) claimDelivery(ctx context.Context, req core.InboundRequest) (string, *core.InboundResult, error) {
	if d.Store == nil {
		return "", nil, nil
	}
	extractor := d.ExtractKey
	if extractor == nil {
		extractor = DefaultIdempotencyKeyExtractor
	}
	key, err := extractor(req)
	if err != nil {
		return "", nil, inboundWrapError(
			err,
			goerrors.CategoryBadInput,
			"inbound: resolve idempotency key",
			http.StatusBadRequest,
			core.RelayErrorBadInput,
			requestFields(req),
		)
	}

	claimID, accepted, err := d.Store.Claim(ctx, claimKey(req, key), d.keyTTL())
	if err != nil {
		fields := requestFields(req)
		fields["idempotency"] = key
		return "", nil, inboundWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: idempotency claim failed",
			http.StatusInternalServerError,
			core.RelayErrorOperationFailed,
			fields,
		)
	}
	if !accepted {
		replayed := requestFields(req)
		replayed["deduped"] = true
		return "", &core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   replayed,
		}, nil
	}
	return claimID, nil, nil
}

// settle is the single exit path for a handled delivery. Settled outcomes
// pin the dedup key so redeliveries replay for free; handler errors and
// server-side statuses release the claim so the producer's next attempt is
// accepted again.
func (d *Dispatcher) settle(
	ctx context.Context,
	req core.InboundRequest,
	claimID string,
	result core.InboundResult,
	handlerErr error,
) (core.InboundResult, error) {
	if handlerErr == nil && deliverySettled(result) {
		if err := d.completeClaim(ctx, claimID); err != nil {
			fields := requestFields(req)
			fields["claim_id"] = claimID
			return core.InboundResult{}, inboundWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.RelayErrorOperationFailed,
				fields,
			)
		}
		result.Metadata = ensureMetadata(result.Metadata)
		result.Metadata["source_id"] = req.SourceID
		result.Metadata["surface"] = req.Surface
		return result, nil
	}

	var deliveryErr error
	if handlerErr != nil {
		deliveryErr = inboundWrapError(
			handlerErr,
			goerrors.CategoryOperation,
			"inbound: handler execution failed",
			http.StatusBadGateway,
			core.RelayErrorOperationFailed,
			requestFields(req),
		)
		result = core.InboundResult{}
	} else {
		fields := requestFields(req)
		fields["status_code"] = result.StatusCode
		deliveryErr = inboundError(
			fmt.Sprintf("inbound: handler returned retryable status %d", result.StatusCode),
			goerrors.CategoryOperation,
			http.StatusBadGateway,
			core.RelayErrorOperationFailed,
			fields,
		)
	}
	if releaseErr := d.releaseClaim(ctx, claimID, deliveryErr); releaseErr != nil {
		fields := requestFields(req)
		fields["claim_id"] = claimID
		return result, errors.Join(
			deliveryErr,
			inboundWrapError(
				releaseErr,
				goerrors.CategoryOperation,
				"inbound: mark idempotency claim failed",
				http.StatusInternalServerError,
				core.RelayErrorInternal,
				fields,
			),
		)
	}
	return result, deliveryErr
}

// deliverySettled reports whether the handler outcome is terminal for the
// producer. Handlers that report a dispatch status settle only on the
// terminal verdicts; dead-lettered and rejected count because the event is
// durably parked (or can never apply), so redelivery buys nothing. Surfaces
// that report no status settle on any accepted sub-500 response.
func deliverySettled(result core.InboundResult) bool {
	if !result.Accepted || result.StatusCode >= http.StatusInternalServerError {
		return false
	}
	status := trimAny(result.Metadata["status"])
	if status == "" {
		return true
	}
	switch core.DispatchStatus(status) {
	case core.DispatchApplied, core.DispatchAlreadyApplied, core.DispatchDeadLettered, core.DispatchRejected:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) completeClaim(ctx context.Context, claimID string) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	return d.Store.Complete(ctx, claimID)
}

func (d *Dispatcher) releaseClaim(ctx context.Context, claimID string, cause error) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	return d.Store.Fail(ctx, claimID, cause, time.Time{})
}

// claimKey scopes the dedup key to the producer and surface so two sources
// reusing a correlation id never collide.
func claimKey(req core.InboundRequest, key string) string {
	return req.SourceID + ":" + req.Surface + ":" + key
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return DefaultClaimTTL
}

func (d *Dispatcher) handlerFor(surface string) core.InboundHandler {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[normalizeSurface(surface)]
}

var (
	idempotencyMetadataKeys = []string{"idempotency_key", "delivery_id", "correlation_id"}
	idempotencyHeaderKeys   = []string{"Idempotency-Key", "X-Idempotency-Key", "X-Correlation-Id"}
)

// DefaultIdempotencyKeyExtractor prefers explicit metadata keys, then the
// correlation id the producer stamps on lifecycle events, then headers.
func DefaultIdempotencyKeyExtractor(req core.InboundRequest) (string, error) {
	for _, key := range idempotencyMetadataKeys {
		if value := trimAny(req.Metadata[key]); value != "" {
			return value, nil
		}
	}
	for _, key := range idempotencyHeaderKeys {
		if value := headerValue(req.Headers, key); value != "" {
			return value, nil
		}
	}
	return "", inboundBadInput("inbound: idempotency key is required", requestFields(req))
}

func normalizeSurface(surface string) string {
	return strings.TrimSpace(strings.ToLower(surface))
}

func requestFields(req core.InboundRequest) map[string]any {
	return map[string]any{
		"source_id": req.SourceID,
		"surface":   req.Surface,
	}
}

func trimAny(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

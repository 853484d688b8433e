package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Dispatch pushes one producer event through the full pipeline and returns a
// typed outcome. Expected failure modes (duplicates, open breaker, exhausted
// retries, tampered payloads) surface as outcome statuses; only unexpected
// failures such as storage faults come back as errors.
//
// Orchestration order: correlation id, payload hash, idempotency claim, then
// per attempt token, breaker gate, outbound call, breaker bookkeeping.
func (s *Service) Dispatch(ctx context.Context, event Event) (outcome DispatchOutcome, err error) {
	if s == nil {
		return DispatchOutcome{}, fmt.Errorf("core: service is not configured")
	}
	startedAt := s.now()
	ctx, event = EnsureCorrelationID(ctx, event)
	fields := map[string]any{
		"correlation_id": event.CorrelationID,
		"event_type":     event.EventType,
	}
	defer func() {
		if outcome.Status != "" {
			fields["outcome"] = string(outcome.Status)
		}
		s.observeOperation(ctx, startedAt, "dispatch", err, fields)
	}()

	if validateErr := event.Validate(); validateErr != nil {
		err = s.mapError(validateErr)
		return DispatchOutcome{
			Status:        DispatchRejected,
			CorrelationID: event.CorrelationID,
		}, err
	}
	event = EnsurePayloadHash(event)

	outcome, applyErr := s.applyEvent(ctx, event)
	if applyErr == nil {
		return outcome, nil
	}

	errType := ErrorTypeOf(applyErr)
	fields["error_type"] = string(errType)

	switch errType {
	case ErrorTypeStorage:
		// A storage fault means we do not know whether the apply landed.
		// Propagate instead of inventing an outcome.
		err = s.mapError(applyErr)
		return DispatchOutcome{}, err
	case ErrorTypeHashMismatch:
		// Tamper signal: park for review and reject, never overwrite.
		if _, enqueueErr := s.deadLetters.Enqueue(ctx, event, errType, applyErr); enqueueErr != nil {
			err = s.mapError(enqueueErr)
			return DispatchOutcome{}, err
		}
		return DispatchOutcome{
			Status:        DispatchRejected,
			CorrelationID: event.CorrelationID,
			ErrorType:     errType,
			Attempts:      outcome.Attempts,
		}, nil
	default:
		if _, enqueueErr := s.deadLetters.Enqueue(ctx, event, errType, applyErr); enqueueErr != nil {
			err = s.mapError(enqueueErr)
			return DispatchOutcome{}, err
		}
		return DispatchOutcome{
			Status:        DispatchDeadLettered,
			CorrelationID: event.CorrelationID,
			ErrorType:     errType,
			Attempts:      outcome.Attempts,
		}, nil
	}
}

// applyEvent runs the idempotent delivery without dead-letter routing. Used
// by Dispatch for first delivery and by redelivery paths that must not
// enqueue a second dead letter on failure.
func (s *Service) applyEvent(ctx context.Context, event Event) (DispatchOutcome, error) {
	attempts := 0
	result, err := s.guard.Apply(ctx, event, func(ctx context.Context, event Event) (string, error) {
		targetRecordID, made, deliverErr := s.deliver(ctx, event)
		attempts = made
		return targetRecordID, deliverErr
	})
	if err != nil {
		return DispatchOutcome{CorrelationID: event.CorrelationID, Attempts: attempts}, err
	}

	status := DispatchApplied
	if result.Kind == ApplyAlreadyApplied {
		status = DispatchAlreadyApplied
	}
	return DispatchOutcome{
		Status:         status,
		CorrelationID:  event.CorrelationID,
		TargetRecordID: result.TargetRecordID,
		Attempts:       attempts,
	}, nil
}

// deliver performs the outbound call with bounded retries. Returns the
// consumer record id, the number of transport attempts made, and the final
// classified error. An open breaker short-circuits before any attempt.
func (s *Service) deliver(ctx context.Context, event Event) (string, int, error) {
	token, err := s.tokenCache.GetToken(ctx, s.config.Token.CredentialKey)
	if err != nil {
		return "", 0, err
	}

	endpoint, err := s.endpointResolver.Resolve(event)
	if err != nil {
		return "", 0, err
	}
	if err := endpoint.Validate(); err != nil {
		return "", 0, err
	}

	maxAttempts := s.config.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !s.breaker.Allow(ctx, endpoint.Key) {
			return "", attempt - 1, BreakerOpenError(endpoint.Key)
		}

		response, callErr := s.transport.Do(ctx, ConsumerRequest{
			EndpointKey:   endpoint.Key,
			Method:        endpoint.Method,
			URL:           endpoint.URL,
			Headers:       endpoint.Headers,
			Body:          event.Payload,
			Timeout:       endpoint.Timeout,
			CorrelationID: event.CorrelationID,
			BearerToken:   token.Value,
		})
		if callErr != nil {
			s.breaker.RecordFailure(ctx, endpoint.Key)
			lastErr = classifyTransportError(endpoint.Key, callErr)
		} else {
			switch {
			case response.StatusCode >= 200 && response.StatusCode < 300:
				s.breaker.RecordSuccess(ctx, endpoint.Key)
				return targetRecordIDFromResponse(response), attempt, nil
			case isTransientStatus(response.StatusCode):
				s.breaker.RecordFailure(ctx, endpoint.Key)
				lastErr = transientStatusError(endpoint.Key, response)
			default:
				// Non-retryable 4xx. The consumer answered, so the breaker
				// does not count it as a dependency failure.
				return "", attempt, ConsumerRejectedError(response.StatusCode, string(response.Body))
			}
		}

		if attempt < maxAttempts {
			if waitErr := waitWithContext(ctx, s.backoff.NextDelay(attempt)); waitErr != nil {
				return "", attempt, TimeoutError("core: dispatch canceled while waiting to retry", waitErr)
			}
		}
	}
	return "", maxAttempts, lastErr
}

// RedeliverDeadLetter is the RedeliverFunc used by the dead letter runner.
// Same pipeline as Dispatch minus the dead-letter routing, so a failed
// redelivery reschedules the existing entry instead of minting a new one.
func (s *Service) RedeliverDeadLetter(ctx context.Context, event Event) (DispatchOutcome, error) {
	if s == nil {
		return DispatchOutcome{}, fmt.Errorf("core: service is not configured")
	}
	ctx, event = EnsureCorrelationID(ctx, event)
	event = EnsurePayloadHash(event)
	return s.applyEvent(ctx, event)
}

// RunPendingDeadLetters claims due retryable dead letters and redelivers
// them. Intended to run on a schedule from the host or the job adapter.
func (s *Service) RunPendingDeadLetters(ctx context.Context, limit int) (stats DispatchStats, err error) {
	if s == nil {
		return DispatchStats{}, fmt.Errorf("core: service is not configured")
	}
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		fields["claimed"] = stats.Claimed
		fields["delivered"] = stats.Delivered
		fields["retried"] = stats.Retried
		fields["failed"] = stats.Failed
		s.observeOperation(ctx, startedAt, "run_pending_dead_letters", err, fields)
	}()

	stats, err = s.deadLetters.RunPending(ctx, limit, s.RedeliverDeadLetter)
	if err != nil {
		err = s.mapError(err)
	}
	return stats, err
}

// Consume pumps events from the producer source until the context ends or
// the source fails. Dispatch failures are logged and do not stop the pump;
// at-least-once redelivery from the producer covers them.
func (s *Service) Consume(ctx context.Context, source EventSource) error {
	if s == nil {
		return fmt.Errorf("core: service is not configured")
	}
	if source == nil {
		return s.mapError(fmt.Errorf("core: event source is required"))
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		event, err := source.ReceiveEvent(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return s.mapError(err)
		}
		if _, err := s.Dispatch(ctx, event); err != nil {
			s.emitLog(ctx, true, "dispatch failed", map[string]any{
				"correlation_id": event.CorrelationID,
				"event_type":     event.EventType,
				"error":          err.Error(),
			})
		}
	}
}

// GetBreakerState reports circuit state for an endpoint key.
func (s *Service) GetBreakerState(ctx context.Context, endpointKey string) (BreakerState, error) {
	if s == nil {
		return BreakerState{}, fmt.Errorf("core: service is not configured")
	}
	state, err := s.breaker.State(ctx, endpointKey)
	if err != nil {
		return BreakerState{}, s.mapError(err)
	}
	return state, nil
}

// TripBreaker forces an endpoint open. Operator action.
func (s *Service) TripBreaker(ctx context.Context, endpointKey string) (BreakerState, error) {
	if s == nil {
		return BreakerState{}, fmt.Errorf("core: service is not configured")
	}
	if strings.TrimSpace(endpointKey) == "" {
		return BreakerState{}, s.mapError(fmt.Errorf("core: endpoint key is required"))
	}
	s.breaker.Trip(ctx, endpointKey)
	return s.GetBreakerState(ctx, endpointKey)
}

// ResetBreaker forces an endpoint closed. Operator action.
func (s *Service) ResetBreaker(ctx context.Context, endpointKey string) (BreakerState, error) {
	if s == nil {
		return BreakerState{}, fmt.Errorf("core: service is not configured")
	}
	if strings.TrimSpace(endpointKey) == "" {
		return BreakerState{}, s.mapError(fmt.Errorf("core: endpoint key is required"))
	}
	s.breaker.Reset(ctx, endpointKey)
	return s.GetBreakerState(ctx, endpointKey)
}

// ListDeadLetters returns dead letters matching the filter, oldest first.
func (s *Service) ListDeadLetters(ctx context.Context, filter DeadLetterFilter) ([]DeadLetterEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is not configured")
	}
	entries, err := s.deadLetters.List(ctx, filter)
	if err != nil {
		return nil, s.mapError(err)
	}
	return entries, nil
}

// RetryDeadLetter redelivers one entry immediately, outside the scheduled
// runner. A delivered entry resolves; a failed attempt leaves the entry in
// its current status for the runner or another operator pass.
func (s *Service) RetryDeadLetter(ctx context.Context, id string) (DispatchOutcome, error) {
	if s == nil {
		return DispatchOutcome{}, fmt.Errorf("core: service is not configured")
	}
	entry, err := s.deadLetters.Get(ctx, id)
	if err != nil {
		return DispatchOutcome{}, s.mapError(err)
	}
	if entry.Status == DeadLetterStatusResolved {
		return DispatchOutcome{}, s.mapError(fmt.Errorf("core: dead letter entry %q is already resolved", id))
	}

	event := entry.Event
	event.RetryCount = entry.Attempts + 1
	outcome, err := s.RedeliverDeadLetter(ctx, event)
	if err != nil {
		return outcome, s.mapError(err)
	}
	if deliveredStatus(outcome.Status) {
		if resolveErr := s.deadLetters.MarkResolved(ctx, entry.ID); resolveErr != nil {
			return outcome, s.mapError(resolveErr)
		}
	}
	return outcome, nil
}

// ResolveDeadLetter closes an entry without redelivery.
func (s *Service) ResolveDeadLetter(ctx context.Context, id string) error {
	if s == nil {
		return fmt.Errorf("core: service is not configured")
	}
	if err := s.deadLetters.MarkResolved(ctx, id); err != nil {
		return s.mapError(err)
	}
	return nil
}

// ResurrectDeadLetter moves a failed entry back into the retryable pool.
func (s *Service) ResurrectDeadLetter(ctx context.Context, id string) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: service is not configured")
	}
	entry, err := s.deadLetters.Resurrect(ctx, id)
	if err != nil {
		return DeadLetterEntry{}, s.mapError(err)
	}
	return entry, nil
}

// GetDeadLetter returns a single entry by id.
func (s *Service) GetDeadLetter(ctx context.Context, id string) (DeadLetterEntry, error) {
	if s == nil {
		return DeadLetterEntry{}, fmt.Errorf("core: service is not configured")
	}
	entry, err := s.deadLetters.Get(ctx, id)
	if err != nil {
		return DeadLetterEntry{}, s.mapError(err)
	}
	return entry, nil
}

// CheckIdempotency reports the pinned record for a (correlation id, event
// type) pair, or ErrIdempotencyRecordNotFound when nothing has applied yet.
func (s *Service) CheckIdempotency(ctx context.Context, correlationID string, eventType string) (IdempotencyRecord, error) {
	if s == nil {
		return IdempotencyRecord{}, fmt.Errorf("core: service is not configured")
	}
	record, err := s.guard.Check(ctx, correlationID, eventType)
	if err != nil {
		if errors.Is(err, ErrIdempotencyRecordNotFound) {
			return IdempotencyRecord{}, err
		}
		return IdempotencyRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func classifyTransportError(endpointKey string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError("core: consumer call timed out for endpoint "+endpointKey, err)
	}
	return TransportError("core: consumer call failed for endpoint "+endpointKey, err)
}

func isTransientStatus(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	return statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests
}

func transientStatusError(endpointKey string, response ConsumerResponse) error {
	if response.StatusCode == http.StatusRequestTimeout {
		return TimeoutError(fmt.Sprintf("core: consumer returned %d for endpoint %s", response.StatusCode, endpointKey), nil)
	}
	return TransportError(fmt.Sprintf("core: consumer returned %d for endpoint %s", response.StatusCode, endpointKey), nil)
}

func targetRecordIDFromResponse(response ConsumerResponse) string {
	if value, ok := response.Metadata["record_id"].(string); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	for key, value := range response.Headers {
		if strings.EqualFold(key, "X-Record-ID") && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

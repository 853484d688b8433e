package core

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorBadInput         = "RELAY_BAD_INPUT"
	RelayErrorAuthFailed       = "RELAY_AUTH_FAILED"
	RelayErrorBreakerOpen      = "RELAY_BREAKER_OPEN"
	RelayErrorTimeout          = "RELAY_TIMEOUT"
	RelayErrorTransportFailed  = "RELAY_TRANSPORT_FAILED"
	RelayErrorConsumerRejected = "RELAY_CONSUMER_REJECTED"
	RelayErrorHashMismatch     = "RELAY_HASH_MISMATCH"
	RelayErrorStorageFailed    = "RELAY_STORAGE_FAILED"
	RelayErrorUnauthorized     = "RELAY_UNAUTHORIZED"
	RelayErrorNotFound         = "RELAY_NOT_FOUND"
	RelayErrorConflict         = "RELAY_CONFLICT"
	RelayErrorOperationFailed  = "RELAY_OPERATION_FAILED"
	RelayErrorRateLimited      = "RELAY_RATE_LIMITED"
	RelayErrorInternal         = "RELAY_INTERNAL_ERROR"
)

var (
	ErrBreakerStateNotFound      = errors.New("core: breaker state not found")
	ErrIdempotencyRecordNotFound = errors.New("core: idempotency record not found")
	ErrDeadLetterNotFound        = errors.New("core: dead letter entry not found")
)

// AuthError wraps a failed token mint. Fatal for the current dispatch,
// retryable at the next one.
func AuthError(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryAuth, message).
			WithCode(http.StatusUnauthorized).
			WithTextCode(RelayErrorAuthFailed)
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(RelayErrorAuthFailed)
}

// BreakerOpenError signals a short-circuited call: the request was never
// attempted against the consumer.
func BreakerOpenError(endpointKey string) error {
	return goerrors.New("core: circuit breaker open for endpoint "+strings.TrimSpace(endpointKey), goerrors.CategoryExternal).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(RelayErrorBreakerOpen).
		WithMetadata(map[string]any{"endpoint_key": strings.TrimSpace(endpointKey)})
}

func TimeoutError(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithCode(http.StatusGatewayTimeout).
			WithTextCode(RelayErrorTimeout)
	}
	return goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusGatewayTimeout).
		WithTextCode(RelayErrorTimeout)
}

func TransportError(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
			WithCode(http.StatusBadGateway).
			WithTextCode(RelayErrorTransportFailed)
	}
	return goerrors.New(message, goerrors.CategoryExternal).
		WithCode(http.StatusBadGateway).
		WithTextCode(RelayErrorTransportFailed)
}

// ConsumerRejectedError covers non-retryable 4xx responses (anything but 429).
func ConsumerRejectedError(statusCode int, body string) error {
	return goerrors.New("core: consumer rejected event", goerrors.CategoryOperation).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(RelayErrorConsumerRejected).
		WithMetadata(map[string]any{
			"status_code": statusCode,
			"body":        strings.TrimSpace(body),
		})
}

// HashMismatchError marks a tamper/mutation signal: a second payload hash
// arrived for an already-pinned (correlation id, event type) pair. Security
// sensitive and never auto-retried.
func HashMismatchError(record IdempotencyRecord, observedHash string) error {
	return goerrors.New("core: payload hash mismatch for applied event", goerrors.CategoryConflict).
		WithCode(http.StatusConflict).
		WithTextCode(RelayErrorHashMismatch).
		WithMetadata(map[string]any{
			"correlation_id": record.CorrelationID,
			"event_type":     record.EventType,
			"applied_hash":   record.PayloadHash,
			"observed_hash":  strings.TrimSpace(observedHash),
		})
}

// StorageError wraps idempotency/dead-letter store failures. Retryable, but
// must never be conflated with a successful apply.
func StorageError(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryInternal, message).
			WithCode(http.StatusInternalServerError).
			WithTextCode(RelayErrorStorageFailed)
	}
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(RelayErrorStorageFailed)
}

// ErrorTypeOf maps an error to the dispatch taxonomy. Unknown errors default
// to Network so they stay in the retryable path rather than being dropped.
func ErrorTypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
		case RelayErrorAuthFailed:
			return ErrorTypeAuth
		case RelayErrorBreakerOpen:
			return ErrorTypeCircuitOpen
		case RelayErrorTimeout:
			return ErrorTypeTimeout
		case RelayErrorTransportFailed, RelayErrorRateLimited:
			return ErrorTypeNetwork
		case RelayErrorConsumerRejected:
			return ErrorTypeClient
		case RelayErrorHashMismatch:
			return ErrorTypeHashMismatch
		case RelayErrorStorageFailed:
			return ErrorTypeStorage
		}
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return ErrorTypeAuth
		case goerrors.CategoryConflict:
			return ErrorTypeHashMismatch
		case goerrors.CategoryBadInput, goerrors.CategoryValidation:
			return ErrorTypeClient
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	return ErrorTypeNetwork
}

func IsHashMismatch(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeHashMismatch
}

func IsBreakerOpen(err error) bool {
	return ErrorTypeOf(err) == ErrorTypeCircuitOpen
}

func relayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "breaker open"), strings.Contains(msg, "circuit"):
		return ensureRelayErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryExternal).WithTextCode(RelayErrorBreakerOpen),
		)
	case strings.Contains(msg, "token"), strings.Contains(msg, "mint"):
		return ensureRelayErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryAuth).WithTextCode(RelayErrorAuthFailed),
		)
	case strings.Contains(msg, "hash mismatch"), strings.Contains(msg, "tamper"):
		return ensureRelayErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryConflict).WithTextCode(RelayErrorHashMismatch),
		)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureRelayErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryBadInput).WithTextCode(RelayErrorBadInput),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return RelayErrorAuthFailed
	case goerrors.CategoryConflict:
		return RelayErrorHashMismatch
	case goerrors.CategoryExternal:
		return RelayErrorTransportFailed
	default:
		return RelayErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

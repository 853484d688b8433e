package core

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type correlationContextKey struct{}

// WithCorrelationID stores the correlation id on the context for downstream
// log enrichment. It carries no control-flow semantics.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, correlationID)
}

// CorrelationIDFromContext returns the stored correlation id, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(correlationContextKey{}).(string)
	return value
}

// EnsureCorrelationID assigns a generated id when the event arrived without
// one, and returns the event plus a context carrying the id.
func EnsureCorrelationID(ctx context.Context, event Event) (context.Context, Event) {
	if strings.TrimSpace(event.CorrelationID) == "" {
		if fromCtx := CorrelationIDFromContext(ctx); fromCtx != "" {
			event.CorrelationID = fromCtx
		} else {
			event.CorrelationID = uuid.NewString()
		}
	}
	return WithCorrelationID(ctx, event.CorrelationID), event
}

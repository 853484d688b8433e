package ratelimit

import (
	"context"
	"errors"

	"github.com/goliatone/go-relay/core"
)

// Transport decorates a consumer transport with adaptive throttling. A call
// inside a throttle window fails fast with a retryable rate-limit error, so
// the dispatch pipeline backs off or dead-letters without burning the
// consumer's remaining budget.
type Transport struct {
	next   core.ConsumerTransport
	policy *AdaptivePolicy
}

func Wrap(next core.ConsumerTransport, policy *AdaptivePolicy) *Transport {
	return &Transport{next: next, policy: policy}
}

func (t *Transport) Do(ctx context.Context, req core.ConsumerRequest) (core.ConsumerResponse, error) {
	if t == nil || t.next == nil {
		return core.ConsumerResponse{}, core.TransportError("ratelimit: transport requires a next hop", nil)
	}
	if t.policy == nil {
		return t.next.Do(ctx, req)
	}

	if err := t.policy.BeforeCall(ctx, req.EndpointKey); err != nil {
		var throttled ThrottledError
		if errors.As(err, &throttled) {
			return core.ConsumerResponse{}, throttled.ToRelayError()
		}
		return core.ConsumerResponse{}, err
	}

	response, err := t.next.Do(ctx, req)
	if err != nil {
		return response, err
	}
	// Observation failures must not mask a delivered response.
	_ = t.policy.AfterCall(ctx, req.EndpointKey, response)
	return response, nil
}

var _ core.ConsumerTransport = (*Transport)(nil)

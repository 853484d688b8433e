package relay

import (
	"time"

	"github.com/goliatone/go-relay/auth"
	"github.com/goliatone/go-relay/core"
	"github.com/goliatone/go-relay/ratelimit"
	"github.com/goliatone/go-relay/security"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	"github.com/goliatone/go-relay/transport"
	"github.com/uptrace/bun"
)

// ClientCredentialsMinter builds the OAuth2 client-credentials minter most
// deployments feed the token cache with.
func ClientCredentialsMinter(cfg auth.ClientCredentialsMinterConfig) (core.TokenMinter, error) {
	return auth.NewClientCredentialsMinter(cfg)
}

// StaticTokenMinter returns fixed tokens per credential key, for embedded
// deployments and tests without a token issuer.
func StaticTokenMinter(tokens map[string]string, ttl time.Duration) core.TokenMinter {
	return auth.StaticMinter{Tokens: tokens, TTL: ttl}
}

// RESTTransport builds the HTTP consumer transport. A nil client falls back
// to a bounded-timeout default.
func RESTTransport(client transport.HTTPDoer) core.ConsumerTransport {
	return transport.NewRESTAdapter(client)
}

// StaticEndpointResolver maps event types to consumer endpoints from a fixed
// route table.
func StaticEndpointResolver(routes map[string]core.Endpoint) (core.EndpointResolver, error) {
	return transport.NewEndpointMap(routes)
}

// RateLimitedTransport wraps a consumer transport with the adaptive
// rate-limit policy so 429 responses throttle subsequent calls. A nil policy
// gets a fresh in-memory one.
func RateLimitedTransport(next core.ConsumerTransport, policy *ratelimit.AdaptivePolicy) core.ConsumerTransport {
	if policy == nil {
		policy = ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	}
	return ratelimit.Wrap(next, policy)
}

// SealedDeadLetterStore decorates a dead-letter store so event payloads are
// encrypted at rest via the given secret provider.
func SealedDeadLetterStore(inner core.DeadLetterStore, provider core.SecretProvider) (core.DeadLetterStore, error) {
	store, err := security.NewSealedDeadLetterStore(inner, provider)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// SQLStoreOptions builds the durable store set over a bun handle and returns
// the service options that replace the in-memory defaults.
func SQLStoreOptions(db *bun.DB) ([]core.Option, error) {
	factory, err := sqlstore.NewRepositoryFactoryFromDB(db)
	if err != nil {
		return nil, err
	}
	return factory.Options(), nil
}

package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-relay/core"
)

// StaticMinter returns fixed tokens per credential key. Useful for embedded
// deployments and tests where no issuer exists.
type StaticMinter struct {
	Tokens map[string]string
	TTL    time.Duration
}

func (m StaticMinter) Mint(_ context.Context, credentialKey string) (core.MintedToken, error) {
	token, ok := m.Tokens[strings.TrimSpace(credentialKey)]
	if !ok || strings.TrimSpace(token) == "" {
		return core.MintedToken{}, mintError(
			fmt.Sprintf("auth: no static token for credential key %q", credentialKey),
			nil,
		)
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return core.MintedToken{Value: token, ExpiresIn: ttl}, nil
}

var _ core.TokenMinter = StaticMinter{}

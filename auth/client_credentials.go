package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-relay/core"
)

const (
	defaultTokenClientTimeout  = 15 * time.Second
	defaultTokenTTL            = time.Hour
	tokenResponseBodyLimit     = 1 << 20
	grantTypeClientCredentials = "client_credentials"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientCredential is one issuer configuration, keyed by the credential key
// the dispatcher passes to GetToken.
type ClientCredential struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	Audience     string
}

type ClientCredentialsMinterConfig struct {
	Credentials map[string]ClientCredential
	Client      HTTPDoer
}

// ClientCredentialsMinter exchanges client credentials for a short-lived
// bearer token against an OAuth2 token endpoint. The TokenCache above it owns
// caching and single-flight; the minter performs one exchange per call.
type ClientCredentialsMinter struct {
	credentials map[string]ClientCredential
	client      HTTPDoer
}

func NewClientCredentialsMinter(cfg ClientCredentialsMinterConfig) (*ClientCredentialsMinter, error) {
	if len(cfg.Credentials) == 0 {
		return nil, fmt.Errorf("auth: at least one client credential is required")
	}
	credentials := make(map[string]ClientCredential, len(cfg.Credentials))
	for key, credential := range cfg.Credentials {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("auth: credential key must not be blank")
		}
		credential.TokenURL = strings.TrimSpace(credential.TokenURL)
		credential.ClientID = strings.TrimSpace(credential.ClientID)
		credential.ClientSecret = strings.TrimSpace(credential.ClientSecret)
		if credential.TokenURL == "" {
			return nil, fmt.Errorf("auth: credential %q requires a token url", key)
		}
		if credential.ClientID == "" || credential.ClientSecret == "" {
			return nil, fmt.Errorf("auth: credential %q requires client id and secret", key)
		}
		credentials[key] = credential
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTokenClientTimeout}
	}
	return &ClientCredentialsMinter{
		credentials: credentials,
		client:      client,
	}, nil
}

type tokenEndpointResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (m *ClientCredentialsMinter) Mint(ctx context.Context, credentialKey string) (core.MintedToken, error) {
	if m == nil || m.client == nil {
		return core.MintedToken{}, fmt.Errorf("auth: client credentials minter is not configured")
	}
	credential, ok := m.credentials[strings.TrimSpace(credentialKey)]
	if !ok {
		return core.MintedToken{}, mintError(
			fmt.Sprintf("auth: unknown credential key %q", credentialKey),
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	form := url.Values{}
	form.Set("grant_type", grantTypeClientCredentials)
	if len(credential.Scopes) > 0 {
		form.Set("scope", strings.Join(credential.Scopes, " "))
	}
	if credential.Audience != "" {
		form.Set("audience", credential.Audience)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, credential.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return core.MintedToken{}, mintError("auth: build token request", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(credential.ClientID, credential.ClientSecret)

	httpRes, err := m.client.Do(httpReq)
	if err != nil {
		return core.MintedToken{}, mintError("auth: token endpoint call failed", err)
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, tokenResponseBodyLimit))
	if err != nil {
		return core.MintedToken{}, mintError("auth: read token response", err)
	}
	if httpRes.StatusCode < 200 || httpRes.StatusCode >= 300 {
		return core.MintedToken{}, mintError(
			fmt.Sprintf("auth: token endpoint returned %d", httpRes.StatusCode),
			nil,
		)
	}

	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return core.MintedToken{}, mintError("auth: decode token response", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return core.MintedToken{}, mintError("auth: token response has no access_token", nil)
	}
	if parsed.TokenType != "" && !strings.EqualFold(parsed.TokenType, "bearer") {
		return core.MintedToken{}, mintError(
			fmt.Sprintf("auth: unsupported token type %q", parsed.TokenType),
			nil,
		)
	}

	ttl := defaultTokenTTL
	if parsed.ExpiresIn > 0 {
		ttl = time.Duration(parsed.ExpiresIn) * time.Second
	}
	return core.MintedToken{
		Value:     strings.TrimSpace(parsed.AccessToken),
		ExpiresIn: ttl,
	}, nil
}

func mintError(message string, cause error) error {
	if cause != nil {
		return goerrors.Wrap(cause, goerrors.CategoryAuth, message).
			WithCode(http.StatusUnauthorized).
			WithTextCode(core.RelayErrorAuthFailed)
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.RelayErrorAuthFailed)
}

var _ core.TokenMinter = (*ClientCredentialsMinter)(nil)

package transport

import (
	"context"
	"net/http"

	"github.com/goliatone/go-relay/core"
)

// NoopAdapter acknowledges every request without contacting a consumer.
// Used for dry-run deployments and pipeline tests.
type NoopAdapter struct{}

func (NoopAdapter) Do(_ context.Context, req core.ConsumerRequest) (core.ConsumerResponse, error) {
	return core.ConsumerResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{},
		Metadata: map[string]any{
			metadataKeyEndpointKeyRecord: req.EndpointKey,
			"noop":                       true,
		},
	}, nil
}

var _ core.ConsumerTransport = NoopAdapter{}

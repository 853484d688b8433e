package transport

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/core"
)

// EndpointMap routes events to consumer endpoints by event type, with an
// optional fallback for types without a dedicated route.
type EndpointMap struct {
	Routes   map[string]core.Endpoint
	Fallback *core.Endpoint
}

func NewEndpointMap(routes map[string]core.Endpoint) (*EndpointMap, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("transport: at least one endpoint route is required")
	}
	normalized := make(map[string]core.Endpoint, len(routes))
	for eventType, endpoint := range routes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return nil, fmt.Errorf("transport: endpoint route event type must not be blank")
		}
		if err := endpoint.Validate(); err != nil {
			return nil, fmt.Errorf("transport: route %q: %w", eventType, err)
		}
		normalized[eventType] = endpoint
	}
	return &EndpointMap{Routes: normalized}, nil
}

func (m *EndpointMap) Resolve(event core.Event) (core.Endpoint, error) {
	if m == nil || len(m.Routes) == 0 {
		return core.Endpoint{}, fmt.Errorf("transport: endpoint map is not configured")
	}
	eventType := strings.TrimSpace(event.EventType)
	if endpoint, ok := m.Routes[eventType]; ok {
		return endpoint, nil
	}
	if m.Fallback != nil {
		return *m.Fallback, nil
	}
	return core.Endpoint{}, fmt.Errorf("transport: no endpoint route for event type %q", eventType)
}

var _ core.EndpointResolver = (*EndpointMap)(nil)

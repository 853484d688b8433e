package relay

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-relay/core"
)

// EndpointPack is a named group of event-type routes a host application
// contributes before the endpoint resolver is built.
type EndpointPack struct {
	Name   string
	Routes map[string]core.Endpoint
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks collects host contributions: consumer endpoint routes,
// alert sinks, and command/query bundles built over the relay service.
type ExtensionHooks struct {
	mu sync.RWMutex

	endpointPacks map[string]EndpointPack
	alertSinks    map[string]core.AlertSink
	bundles       map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		endpointPacks: map[string]EndpointPack{},
		alertSinks:    map[string]core.AlertSink{},
		bundles:       map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterEndpointPack(pack EndpointPack) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("relay: endpoint pack name is required")
	}
	if len(pack.Routes) == 0 {
		return fmt.Errorf("relay: endpoint pack %q has no routes", name)
	}

	routes := make(map[string]core.Endpoint, len(pack.Routes))
	for eventType, endpoint := range pack.Routes {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("relay: endpoint pack %q has a blank event type", name)
		}
		routes[eventType] = endpoint
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.endpointPacks[name]; exists {
		return fmt.Errorf("relay: endpoint pack %q already registered", name)
	}
	h.endpointPacks[name] = EndpointPack{Name: name, Routes: routes}
	return nil
}

func (h *ExtensionHooks) RegisterAlertSink(name string, sink core.AlertSink) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("relay: alert sink name is required")
	}
	if sink == nil {
		return fmt.Errorf("relay: alert sink %q is nil", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.alertSinks[name]; exists {
		return fmt.Errorf("relay: alert sink %q already registered", name)
	}
	h.alertSinks[name] = sink
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("relay: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("relay: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("relay: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("relay: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// EndpointRoutes merges every registered pack into one route table. A route
// claimed by two packs is a wiring bug, not a precedence question.
func (h *ExtensionHooks) EndpointRoutes() (map[string]core.Endpoint, error) {
	if h == nil {
		return map[string]core.Endpoint{}, nil
	}
	packs := h.EndpointPacks()

	routes := map[string]core.Endpoint{}
	owners := map[string]string{}
	for _, pack := range packs {
		for eventType, endpoint := range pack.Routes {
			if owner, exists := owners[eventType]; exists {
				return nil, fmt.Errorf(
					"relay: event type %q claimed by packs %q and %q",
					eventType, owner, pack.Name,
				)
			}
			owners[eventType] = pack.Name
			routes[eventType] = endpoint
		}
	}
	return routes, nil
}

// CombinedAlertSink fans dead-letter alerts out to every registered sink in
// name order. Returns nil when no sink is registered.
func (h *ExtensionHooks) CombinedAlertSink() core.AlertSink {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	names := make([]string, 0, len(h.alertSinks))
	for name := range h.alertSinks {
		names = append(names, name)
	}
	sort.Strings(names)
	sinks := make([]core.AlertSink, 0, len(names))
	for _, name := range names {
		sinks = append(sinks, h.alertSinks[name])
	}
	h.mu.RUnlock()

	if len(sinks) == 0 {
		return nil
	}
	if len(sinks) == 1 {
		return sinks[0]
	}
	return fanoutAlertSink(sinks)
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("relay: command/query service is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) EndpointPacks() []EndpointPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.endpointPacks))
	for name := range h.endpointPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]EndpointPack, 0, len(names))
	for _, name := range names {
		pack := h.endpointPacks[name]
		routes := make(map[string]core.Endpoint, len(pack.Routes))
		for eventType, endpoint := range pack.Routes {
			routes[eventType] = endpoint
		}
		out = append(out, EndpointPack{Name: pack.Name, Routes: routes})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type fanoutAlertSink []core.AlertSink

func (s fanoutAlertSink) Notify(ctx context.Context, alert core.DeadLetterAlert) {
	for _, sink := range s {
		if sink == nil {
			continue
		}
		sink.Notify(ctx, alert)
	}
}

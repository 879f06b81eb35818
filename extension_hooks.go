package gatekeeper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-gatekeeper/inbound"
)

// HandlerPack adds handlers for processor event types the fulfillment
// engine does not own, for example dispute or payout notifications.
type HandlerPack struct {
	Name     string
	Handlers map[string]inbound.Handler
}

// HandlerRegistrar is satisfied by *inbound.Dispatcher.
type HandlerRegistrar interface {
	Register(eventType string, handler inbound.Handler) error
}

type CommandQueryBundleFactory func(g *Gatekeeper) (any, error)

type ExtensionHooks struct {
	mu sync.RWMutex

	handlerPacks map[string]HandlerPack
	bundles      map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		handlerPacks: map[string]HandlerPack{},
		bundles:      map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterHandlerPack(pack HandlerPack) error {
	if h == nil {
		return fmt.Errorf("gatekeeper: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("gatekeeper: handler pack name is required")
	}
	if len(pack.Handlers) == 0 {
		return fmt.Errorf("gatekeeper: handler pack %q has no handlers", name)
	}

	normalized := HandlerPack{Name: name, Handlers: make(map[string]inbound.Handler, len(pack.Handlers))}
	for eventType, handler := range pack.Handlers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("gatekeeper: handler pack %q has an empty event type", name)
		}
		if handler == nil {
			return fmt.Errorf("gatekeeper: handler pack %q has a nil handler for %q", name, eventType)
		}
		normalized.Handlers[eventType] = handler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.handlerPacks[name]; exists {
		return fmt.Errorf("gatekeeper: handler pack %q already registered", name)
	}
	h.handlerPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("gatekeeper: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("gatekeeper: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("gatekeeper: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("gatekeeper: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyHandlerPacks registers every pack in name order. A pack that claims
// an event type already bound (including the engine's own types) fails.
func (h *ExtensionHooks) ApplyHandlerPacks(registrar HandlerRegistrar) error {
	if h == nil {
		return nil
	}
	if registrar == nil {
		return fmt.Errorf("gatekeeper: handler registrar is required")
	}

	for _, pack := range h.HandlerPacks() {
		eventTypes := make([]string, 0, len(pack.Handlers))
		for eventType := range pack.Handlers {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		for _, eventType := range eventTypes {
			if err := registrar.Register(eventType, pack.Handlers[eventType]); err != nil {
				return fmt.Errorf("gatekeeper: handler pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(g *Gatekeeper) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if g == nil {
		return nil, fmt.Errorf("gatekeeper: gatekeeper is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		names = append(names, name)
		factories[name] = factory
	}
	h.mu.RUnlock()
	sort.Strings(names)

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](g)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) HandlerPacks() []HandlerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.handlerPacks))
	for name := range h.handlerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]HandlerPack, 0, len(names))
	for _, name := range names {
		pack := h.handlerPacks[name]
		handlers := make(map[string]inbound.Handler, len(pack.Handlers))
		for eventType, handler := range pack.Handlers {
			handlers[eventType] = handler
		}
		out = append(out, HandlerPack{Name: pack.Name, Handlers: handlers})
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

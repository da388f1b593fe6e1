package capability

import (
	"context"
	"fmt"
	"sync"
)

// Handler implements one locally served capability.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// LocalEndpoint serves capabilities in-process. Intended for tests and
// examples where a network endpoint is unnecessary.
type LocalEndpoint struct {
	mu       sync.RWMutex
	order    []string
	tools    map[string]ToolInfo
	handlers map[string]Handler
}

// NewLocalEndpoint creates an empty in-process endpoint.
func NewLocalEndpoint() *LocalEndpoint {
	return &LocalEndpoint{
		tools:    map[string]ToolInfo{},
		handlers: map[string]Handler{},
	}
}

// Register adds or replaces a capability. Registration order is preserved
// for ListTools.
func (e *LocalEndpoint) Register(info ToolInfo, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[info.Name]; !exists {
		e.order = append(e.order, info.Name)
	}
	e.tools[info.Name] = info
	e.handlers[info.Name] = h
}

// ListTools returns the registered capabilities in registration order.
func (e *LocalEndpoint) ListTools(_ context.Context) ([]ToolInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]ToolInfo, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.tools[name])
	}
	return out, nil
}

// CallTool invokes a registered handler.
func (e *LocalEndpoint) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	e.mu.RLock()
	h, ok := e.handlers[name]
	e.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown capability: %s", name)
	}
	return h(ctx, args)
}

// Close is a no-op for the in-process endpoint.
func (e *LocalEndpoint) Close() error { return nil }

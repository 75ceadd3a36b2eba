package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"paperline/internal/capability"
)

// Handler executes one kind of plugin background work, keyed by its Type
// string. Implementations receive the owning plugin's capability context and
// the job's opaque payload.
type Handler interface {
	Type() string
	Execute(ctx context.Context, caps *capability.Context, payload json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc struct {
	Kind string
	Fn   func(ctx context.Context, caps *capability.Context, payload json.RawMessage) error
}

func (h HandlerFunc) Type() string { return h.Kind }

func (h HandlerFunc) Execute(ctx context.Context, caps *capability.Context, payload json.RawMessage) error {
	return h.Fn(ctx, caps, payload)
}

// HandlerRegistry maps job type strings to handlers. Like the slot registry
// it is an explicit instance, not package state.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same type twice panics; that is a
// wiring bug, not a runtime condition.
func (r *HandlerRegistry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kind := h.Type()
	if _, exists := r.handlers[kind]; exists {
		panic(fmt.Sprintf("jobs: handler %q already registered", kind))
	}
	r.handlers[kind] = h
}

func (r *HandlerRegistry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Types returns registered type strings in sorted order.
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Package events routes typed change events to their handlers.
package events

import (
	"sync"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// Registry keeps a mapping from event types to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]ports.EventHandler
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[domain.EventType][]ports.EventHandler{}}
}

// Register appends a handler for eventType.
func (r *Registry) Register(eventType domain.EventType, handler ports.EventHandler) {
	if handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = map[domain.EventType][]ports.EventHandler{}
	}
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// Resolve returns the handlers registered for eventType, possibly none.
func (r *Registry) Resolve(eventType domain.EventType) []ports.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[eventType]
	out := make([]ports.EventHandler, len(handlers))
	copy(out, handlers)
	return out
}

// Types lists the event types with at least one handler.
func (r *Registry) Types() []domain.EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}

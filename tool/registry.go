package tool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDuplicateTool is returned when registering an already-known name.
var ErrDuplicateTool = errors.New("tool already registered")

type entry struct {
	desc Descriptor
	fn   Func
}

// Registry is an in-memory Provider. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]entry)}
}

// Register adds a tool under desc.Name.
func (r *Registry) Register(desc Descriptor, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[desc.Name]; exists {
		return fmt.Errorf("register tool %s: %w", desc.Name, ErrDuplicateTool)
	}
	r.tools[desc.Name] = entry{desc: desc, fn: fn}
	return nil
}

// Deregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// List implements Provider.
func (r *Registry) List() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Descriptor, len(r.tools))
	for name, e := range r.tools {
		out[name] = e.desc
	}
	return out
}

// Resolve implements Provider.
func (r *Registry) Resolve(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

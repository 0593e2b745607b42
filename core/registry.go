package core

import "sort"

// Registry maps function names to handlers. It is immutable once built.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates a registry holding a copy of handlers.
func NewRegistry(handlers map[string]Handler) *Registry {
	copied := make(map[string]Handler, len(handlers))
	for name, handler := range handlers {
		if handler != nil {
			copied[name] = handler
		}
	}
	return &Registry{handlers: copied}
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	handler, exists := r.handlers[name]
	return handler, exists
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}

package provider

import (
	"fmt"
	"sync"
)

// Registry manages the payment processor implementations known at runtime.
// Adapter packages register themselves from init via Register.
type Registry struct {
	factories map[string]ProcessorFactory
	mu        sync.RWMutex
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProcessorFactory),
	}
}

// Register adds a processor factory to the registry.
func (r *Registry) Register(name string, factory ProcessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get retrieves a processor factory by name.
func (r *Registry) Get(name string) (ProcessorFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, fmt.Errorf("payment processor %q is not registered", name)
	}
	return factory, nil
}

// Names returns all registered processor names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry is the global default processor registry.
var DefaultRegistry = NewRegistry()

// Register registers a processor with the default registry.
func Register(name string, factory ProcessorFactory) {
	DefaultRegistry.Register(name, factory)
}

package service

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// Constructor builds a service from its lifecycle settings, the opaque
// config payload from the service's configuration entry, and the shared
// dependencies.
type Constructor func(cfg Config, rawConfig json.RawMessage, deps *Dependencies) (Service, error)

// Registry maps service identifiers to constructors. Bootstrap consults
// it to instantiate the services a configuration enables.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty constructor registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor under the given identifier.
func (r *Registry) Register(name string, constructor Constructor) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "empty service identifier")
	}
	if constructor == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", fmt.Sprintf("nil constructor for %s", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("%w: constructor %s", errors.ErrDuplicateService, name)
	}
	r.constructors[name] = constructor
	return nil
}

// Constructor looks up the constructor for name.
func (r *Registry) Constructor(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	constructor, ok := r.constructors[name]
	return constructor, ok
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.constructors))
}

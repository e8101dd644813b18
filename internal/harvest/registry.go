package harvest

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps declared unit names to constructors. No unit can run
// unless registered; registration happens explicitly at process init.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds name to ctor. Re-registering a name overwrites the
// previous constructor, which keeps tests independent.
func (r *Registry) Register(name string, ctor Constructor) error {
	if name == "" {
		return fmt.Errorf("unit name is required")
	}
	if ctor == nil {
		return fmt.Errorf("constructor for %q is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
	return nil
}

// Create instantiates the named unit with the given config.
func (r *Registry) Create(name string, cfg FetchUnitConfig, logger *zap.Logger) (FetchUnit, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("create unit %q: %w", name, ErrUnitNotFound)
	}
	unit, err := ctor(cfg, logger.With(zap.String("unit", name)))
	if err != nil {
		return nil, fmt.Errorf("construct unit %q: %w", name, err)
	}
	return unit, nil
}

// Available lists registered unit names, sorted for stable introspection.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

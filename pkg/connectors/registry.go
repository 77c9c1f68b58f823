package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MODSetter/SurfSense-sub000/pkg/models"
)

// Factory builds an adapter for one stored connector row.
type Factory func(ctx context.Context, deps Deps, conn *models.Connector) (Adapter, error)

// Registry maps connector types to adapter factories. Connector types
// without a registered factory are valid rows the scheduler refuses to run.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ConnectorType]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[models.ConnectorType]Factory),
	}
}

// Register adds a factory for a connector type. Registering the same type
// twice is a wiring bug and fails.
func (r *Registry) Register(t models.ConnectorType, f Factory) error {
	if !t.IsValid() {
		return fmt.Errorf("unknown connector type: %s", t)
	}
	if f == nil {
		return fmt.Errorf("nil factory for connector type %s", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[t]; exists {
		return fmt.Errorf("connector type %s already registered", t)
	}
	r.factories[t] = f
	return nil
}

// Supports reports whether a factory is registered for the type.
func (r *Registry) Supports(t models.ConnectorType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[t]
	return ok
}

// Types returns the registered connector types, sorted.
func (r *Registry) Types() []models.ConnectorType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ConnectorType, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New builds an adapter for the connector row.
func (r *Registry) New(ctx context.Context, deps Deps, conn *models.Connector) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[conn.ConnectorType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no adapter registered for connector type %s", conn.ConnectorType)
	}

	adapter, err := factory(ctx, deps, conn)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", conn.ConnectorType, err)
	}
	return adapter, nil
}

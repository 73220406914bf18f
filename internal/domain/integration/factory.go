package integration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PatClay7325/manufacturing-analytics-platform-sub003/internal/domain/shared"
)

// Constructor builds an adapter from a validated, normalized config.
type Constructor func(cfg *IntegrationConfig) (Adapter, error)

// Factory maps system types to adapter constructors. Infrastructure packages
// register their constructors at wiring time; the manager only ever builds
// adapters through the factory.
type Factory struct {
	mu           sync.RWMutex
	constructors map[SystemType]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[SystemType]Constructor),
	}
}

// RegisterConstructor binds a constructor to a system type.
func (f *Factory) RegisterConstructor(t SystemType, ctor Constructor) error {
	if !t.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedSystemType, t)
	}
	if ctor == nil {
		return fmt.Errorf("%w: constructor cannot be nil", shared.ErrInvalidInput)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[t]; exists {
		return fmt.Errorf("%w: constructor for type %q", shared.ErrAlreadyExists, t)
	}
	f.constructors[t] = ctor
	return nil
}

// Supports reports whether a constructor is registered for the type.
func (f *Factory) Supports(t SystemType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.constructors[t]
	return ok
}

// SupportedTypes returns the registered system types, sorted.
func (f *Factory) SupportedTypes() []SystemType {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]SystemType, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Create validates and normalizes the config, then builds an adapter with
// the constructor registered for its type.
func (f *Factory) Create(cfg *IntegrationConfig) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Normalize()

	f.mu.RLock()
	ctor, ok := f.constructors[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoConstructorForType, cfg.Type)
	}

	adapter, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("integration: constructing %q adapter %q: %w", cfg.Type, cfg.ID, err)
	}
	return adapter, nil
}

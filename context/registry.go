// Package context selects the StateDB backend an engine runs on. Backends
// register a constructor under a ContextType from their init functions.
package context

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/govm-net/multitest/types"
)

// ContextType names a state backend
type ContextType string

const (
	// MemoryContextType keeps the ledger and stores in maps
	MemoryContextType ContextType = "memory"
	// DBContextType keeps them in SQLite through gorm
	DBContextType ContextType = "db"
)

var (
	ErrBackendExists  = errors.New("state backend already registered")
	ErrUnknownBackend = errors.New("unknown state backend")
)

// ContextConstructor opens a fresh, empty StateDB. params carries
// backend-specific settings such as "db_path".
type ContextConstructor func(params map[string]any) (types.StateDB, error)

// Registry maps backend names to constructors
type Registry struct {
	mu       sync.RWMutex
	backends map[ContextType]ContextConstructor
	fallback ContextType
}

var defaultRegistry = NewRegistry()

// NewRegistry returns a registry with no backends. Its default is memory
// until SetDefault picks another.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[ContextType]ContextConstructor)}
}

// GetRegistry returns the registry backends add themselves to
func GetRegistry() *Registry {
	return defaultRegistry
}

func (r *Registry) Register(ct ContextType, constructor ContextConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[ct]; ok {
		return fmt.Errorf("%w: %s", ErrBackendExists, ct)
	}
	r.backends[ct] = constructor
	return nil
}

// SetDefault chooses the backend used when no type is given
func (r *Registry) SetDefault(ct ContextType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[ct]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, ct)
	}
	r.fallback = ct
	return nil
}

// Get opens a new state of type ct; empty means the default
func (r *Registry) Get(ct ContextType, params map[string]any) (types.StateDB, error) {
	if ct == "" {
		ct = r.DefaultContextType()
	}
	r.mu.RLock()
	constructor, ok := r.backends[ct]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, ct)
	}

	state, err := constructor(params)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s state: %w", ct, err)
	}
	return state, nil
}

func (r *Registry) DefaultContextType() ContextType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return MemoryContextType
	}
	return r.fallback
}

// ListRegistered returns the backend names in sorted order
func (r *Registry) ListRegistered() []ContextType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ContextType, 0, len(r.backends))
	for ct := range r.backends {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func Register(ct ContextType, constructor ContextConstructor) error {
	return defaultRegistry.Register(ct, constructor)
}

func SetDefault(ct ContextType) error {
	return defaultRegistry.SetDefault(ct)
}

// Get opens a state from the package registry
func Get(ct ContextType, params map[string]any) (types.StateDB, error) {
	return defaultRegistry.Get(ct, params)
}

func DefaultContextType() ContextType {
	return defaultRegistry.DefaultContextType()
}

func ListRegistered() []ContextType {
	return defaultRegistry.ListRegistered()
}

package asset

import (
	"fmt"
	"slices"
	"sync"
)

// Registry is a thread-safe registry of known tokens keyed by ID.
type Registry struct {
	byID map[ID]*Asset
	mu   sync.RWMutex
}

// NewRegistry creates a new empty asset registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]*Asset)}
}

// Register adds an asset. Registering a second asset with the same ID and
// different decimals is an error; identical re-registration is a no-op.
func (r *Registry) Register(a *Asset) error {
	if a == nil {
		return ErrNilAsset
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[a.ID()]; ok {
		if existing.Decimals() != a.Decimals() {
			return fmt.Errorf("asset: %s registered with %d decimals, got %d",
				a.ID(), existing.Decimals(), a.Decimals())
		}
		return nil
	}
	r.byID[a.ID()] = a
	return nil
}

// Merge copies every asset of other into r. Conflicts keep r's entry and are
// returned together.
func (r *Registry) Merge(other *Registry) []error {
	if other == nil {
		return nil
	}
	var errs []error
	for _, a := range other.All() {
		if err := r.Register(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Get retrieves an asset by its ID.
func (r *Registry) Get(id ID) (*Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	return a, ok
}

// Has returns true if an asset with the given ID is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.Get(id)
	return ok
}

// All returns all registered assets ordered by ID.
func (r *Registry) All() []*Asset {
	r.mu.RLock()
	result := make([]*Asset, 0, len(r.byID))
	for _, a := range r.byID {
		result = append(result, a)
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b *Asset) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return result
}

// Count returns the number of registered assets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

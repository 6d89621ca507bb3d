// Package registry holds the deployable units known to a run.
//
// A Registry maps a unit name to its compiled interface: constructor schema,
// required library slots and creation bytecode. It is populated once at
// startup, usually from a Hardhat artifacts directory (see LoadArtifacts),
// and is read-only afterwards.
package registry

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/deploydag/internal/ir"
)

// Registry is an in-memory, concurrency-safe unit store.
type Registry struct {
	mu    sync.RWMutex
	units map[string]ir.Unit
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{units: make(map[string]ir.Unit)}
}

// Register adds a unit. Registering the same schema twice is a no-op;
// a different schema under an existing name fails with DuplicateUnitError.
func (r *Registry) Register(u ir.Unit) error {
	if u.Name == "" {
		return fmt.Errorf("register: unit name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.units[u.Name]; ok {
		if existing.SameSchema(u) {
			return nil
		}
		return &ir.DuplicateUnitError{
			Name:   u.Name,
			Detail: fmt.Sprintf("already registered from %q with a different schema", existing.SourceName),
		}
	}

	u = cloneUnit(u)
	slices.Sort(u.Libraries)
	r.units[u.Name] = u
	return nil
}

// Lookup returns the unit registered under name.
func (r *Registry) Lookup(name string) (ir.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[name]
	if !ok {
		return ir.Unit{}, &ir.UnknownUnitError{Name: name}
	}
	return cloneUnit(u), nil
}

// cloneUnit copies the slices and maps of u so neither the registering
// caller nor a lookup can change a registered unit.
func cloneUnit(u ir.Unit) ir.Unit {
	u.Constructor = slices.Clone(u.Constructor)
	u.Libraries = slices.Clone(u.Libraries)
	if u.LinkRefs != nil {
		refs := maps.Clone(u.LinkRefs)
		for slot, offsets := range refs {
			refs[slot] = slices.Clone(offsets)
		}
		u.LinkRefs = refs
	}
	return u
}

// Names returns all registered unit names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

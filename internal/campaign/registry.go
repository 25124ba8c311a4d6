// SPDX-License-Identifier: MIT

package campaign

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/log"
)

// Gate answers the rendering question for the registry. *Machine implements
// it.
type Gate interface {
	GateOpen() bool
	Unrestricted() bool
}

// Registry holds the set of currently active components, enforcing one
// active component per type. Activations are admitted only while the gate is
// open; deactivations always apply. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Component
	byType map[string]string // type -> active component id

	gate   Gate
	logger zerolog.Logger
}

// NewRegistry returns an empty registry gated by the given Gate.
func NewRegistry(gate Gate, logger zerolog.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]Component),
		byType: make(map[string]string),
		gate:   gate,
		logger: logger.With().Str(log.FieldComponent, "registry").Logger(),
	}
}

// Activate admits a component into the active set. Returns false when the
// gate is closed; the activation is dropped, not queued. An activation for a
// type that already has an active component replaces it (last write wins).
func (r *Registry) Activate(c Component) bool {
	if !r.gate.GateOpen() {
		r.logger.Debug().
			Str(log.FieldComponentID, c.ID).
			Str(log.FieldComponentType, c.Type).
			Msg("activation ignored, gate closed")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(c)
	r.logger.Info().
		Str(log.FieldComponentID, c.ID).
		Str(log.FieldComponentType, c.Type).
		Msg("component activated")
	return true
}

// insertLocked puts c into the maps, evicting any same-type occupant.
func (r *Registry) insertLocked(c Component) {
	if prev, ok := r.byType[c.Type]; ok && prev != c.ID {
		delete(r.byID, prev)
	}
	// The component may have changed type since it was last seen.
	if old, ok := r.byID[c.ID]; ok && old.Type != c.Type {
		if r.byType[old.Type] == c.ID {
			delete(r.byType, old.Type)
		}
	}
	r.byID[c.ID] = c
	r.byType[c.Type] = c.ID
}

// Deactivate removes a component by id. Unconditional: deactivations apply
// even while the gate is closed. Unknown ids are a no-op.
func (r *Registry) Deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if r.byType[c.Type] == id {
		delete(r.byType, c.Type)
	}
	r.logger.Info().
		Str(log.FieldComponentID, id).
		Str(log.FieldComponentType, c.Type).
		Msg("component deactivated")
}

// Update replaces an already-active component in place, or admits it as a
// fresh activation when the gate is open. Used for in-place config updates.
func (r *Registry) Update(c Component) bool {
	r.mu.Lock()
	if _, ok := r.byID[c.ID]; ok {
		r.insertLocked(c)
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()
	return r.Activate(c)
}

// ReplaceAll swaps the entire active set for the given snapshot, keeping
// only components whose status is active. Later entries win type conflicts.
func (r *Registry) ReplaceAll(components []Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]Component, len(components))
	r.byType = make(map[string]string, len(components))
	for _, c := range components {
		if !c.IsActive() {
			continue
		}
		r.insertLocked(c)
	}
	r.logger.Info().Int("active_count", len(r.byID)).Msg("active component set replaced")
}

// Clear empties the active set.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.byID) == 0 {
		return
	}
	r.byID = make(map[string]Component)
	r.byType = make(map[string]string)
	r.logger.Info().Msg("active component set cleared")
}

// IsTypeVisible answers the rendering question for one component type. With
// no campaign governing the session every type is visible; under a campaign
// the gate must be open and the type must have an active component.
func (r *Registry) IsTypeVisible(componentType string) bool {
	if r.gate.Unrestricted() {
		return true
	}
	if !r.gate.GateOpen() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byType[componentType]
	return ok
}

// Active returns a copy of the active component for the given type, if any.
func (r *Registry) Active(componentType string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[componentType]
	if !ok {
		return Component{}, false
	}
	c := r.byID[id]
	return c, true
}

// ActiveByID returns a copy of an active component by id, if present.
func (r *Registry) ActiveByID(id string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// ActiveComponents returns the active set sorted by id for stable output.
func (r *Registry) ActiveComponents() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

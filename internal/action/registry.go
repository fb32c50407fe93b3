// Package action defines the action registry: the static table mapping an
// action type to its point value and repeatability.
package action

import (
	"errors"
	"fmt"
	"sync"

	"gamification-engine/internal/config"
	"gamification-engine/internal/model"
)

// ErrUnknownAction is returned when an action type is not in the registry.
var ErrUnknownAction = errors.New("unknown action type")

// Definition describes one awardable action.
type Definition struct {
	Type   string
	Points int64
	// Repeatable actions are keyed per related entity and may be awarded
	// once for each distinct entity; non-repeatable actions are awarded
	// once per user, ever.
	Repeatable bool
}

// Registry provides thread-safe lookup of action definitions.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Definition)}
}

// FromConfig builds a registry from the configured action catalog.
// The badge_unlock type is reserved for the badge evaluator and may not
// be configured as an inbound action.
func FromConfig(actions []config.ActionConfig) (*Registry, error) {
	r := NewRegistry()
	for _, a := range actions {
		if a.Type == model.ActionBadgeUnlock {
			return nil, fmt.Errorf("action type %q is reserved", a.Type)
		}
		if err := r.Register(Definition{Type: a.Type, Points: a.Points, Repeatable: a.Repeatable}); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a definition to the registry, replacing any existing
// definition for the same type.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return fmt.Errorf("action type cannot be empty")
	}
	if def.Points <= 0 {
		return fmt.Errorf("action %q must award positive points", def.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[def.Type] = def
	return nil
}

// Resolve looks up a definition by action type.
func (r *Registry) Resolve(actionType string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.actions[actionType]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	return def, nil
}

// Types returns all registered action types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actions))
	for t := range r.actions {
		types = append(types, t)
	}
	return types
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

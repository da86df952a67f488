package carrier

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Registry maps carrier config keys to adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its carrier key. Registering a carrier
// twice replaces the adapter and keeps the original position.
func (r *Registry) Register(a Adapter) {
	key := a.Carrier().Key()
	if _, ok := r.adapters[key]; !ok {
		r.order = append(r.order, key)
	}
	r.adapters[key] = a
}

// Get returns an adapter by carrier key or display name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, eris.Errorf("carrier: unknown carrier %q", name)
	}
	return a, nil
}

// Select returns the named adapters, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// All returns all adapters in registration order.
func (r *Registry) All() []Adapter {
	result := make([]Adapter, 0, len(r.order))
	for _, key := range r.order {
		result = append(result, r.adapters[key])
	}
	return result
}

// AllNames returns all registered carrier keys in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// CircleSearcher returns the named adapter if it supports capped circle search.
func (r *Registry) CircleSearcher(name string) (CircleSearcher, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	cs, ok := a.(CircleSearcher)
	if !ok {
		return nil, eris.Errorf("carrier: %s has no circle search", a.Carrier())
	}
	return cs, nil
}

// NationwideSource returns the named adapter if it can dump all locations.
func (r *Registry) NationwideSource(name string) (NationwideSource, error) {
	a, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	ns, ok := a.(NationwideSource)
	if !ok {
		return nil, eris.Errorf("carrier: %s has no nationwide dump", a.Carrier())
	}
	return ns, nil
}

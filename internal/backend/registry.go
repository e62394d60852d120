package backend

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps engine names and ids to engines. It is built once at
// startup and passed to whoever needs it.
type Registry struct {
	byID   map[uint8]Engine
	byName map[string]Engine
}

// NewRegistry registers the given engines.
func NewRegistry(engines ...Engine) (*Registry, error) {
	r := &Registry{byID: make(map[uint8]Engine), byName: make(map[string]Engine)}
	for _, e := range engines {
		name := strings.ToLower(e.Name())
		if _, dup := r.byID[e.ID()]; dup {
			return nil, fmt.Errorf("engine id %d registered twice", e.ID())
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("engine %s registered twice", e.Name())
		}
		r.byID[e.ID()] = e
		r.byName[name] = e
	}
	return r, nil
}

// ByID returns the engine with a boundary-file engine id.
func (r *Registry) ByID(id uint8) (Engine, error) {
	if e, ok := r.byID[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("unknown storage engine id %d", id)
}

// ByName returns an engine by its case-insensitive name.
func (r *Registry) ByName(name string) (Engine, error) {
	if e, ok := r.byName[strings.ToLower(name)]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("unknown storage engine %s", name)
}

// ResolveID maps an engine name to its id.
func (r *Registry) ResolveID(name string) (uint8, error) {
	e, err := r.ByName(name)
	if err != nil {
		return 0, err
	}
	return e.ID(), nil
}

// Names lists the registered engines.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byID))
	for _, e := range r.byID {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

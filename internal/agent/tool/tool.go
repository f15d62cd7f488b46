// Package tool exposes assistant capabilities behind a uniform
// interface the agent can offer to the model.
package tool

import (
	"context"
	"encoding/json"
)

// Tool is a capability callable by the model. Invoke receives the raw
// JSON arguments the model produced and returns a tool result string,
// usually JSON.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema describing the arguments.
	Parameters() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds tools in registration order.
type Registry struct {
	order  []string
	byName map[string]Tool
}

// NewRegistry creates a registry. Later registrations win on name
// collision but keep the original position.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if _, ok := r.byName[t.Name()]; !ok {
			r.order = append(r.order, t.Name())
		}
		r.byName[t.Name()] = t
	}
	return r
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// All returns tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

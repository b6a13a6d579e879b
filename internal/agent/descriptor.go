// Package agent defines the voice agents: descriptors with tool handlers,
// the per-call manager that dispatches tool calls, and the control
// sentinel protocol between tool results and the call supervisor.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Well-known agent names. The security gate is the initial agent for
// every non-whitelisted call; main_agent is the hub the gate unlocks into.
const (
	GateAgentName = "security_agent"
	MainAgentName = "main_agent"
)

// Model tiers a descriptor may prefer. The supervisor maps tiers to
// concrete model ids from config.
const (
	ModelMini    = "mini"
	ModelPremium = "premium"
)

// Handler executes one tool call. The returned string goes back to the
// model verbatim unless it is a control sentinel.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is one function an agent exposes to the model.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
}

// Descriptor is one agent: instructions, tools and routing metadata.
// Descriptors are created fresh per call so handlers may hold per-call
// state in their closures.
type Descriptor struct {
	Name         string
	DisplayName  string
	Description  string
	Keywords     []string
	Greeting     string
	Instructions string
	// PreferredModel is a tier (mini or premium); empty means keep the
	// current model on switch.
	PreferredModel string
	Tools          []Tool
}

// Tool returns the named tool, or nil.
func (d *Descriptor) Tool(name string) *Tool {
	for i := range d.Tools {
		if d.Tools[i].Name == name {
			return &d.Tools[i]
		}
	}
	return nil
}

// Registry holds the agents available to one call, in registration order.
type Registry struct {
	order  []string
	agents map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Descriptor)}
}

// Register adds an agent. Names must be unique.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("agent has no name")
	}
	if _, exists := r.agents[d.Name]; exists {
		return fmt.Errorf("agent %q already registered", d.Name)
	}
	r.agents[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.agents[name]
	return d, ok
}

// List returns all agents in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	return out
}

// Selectable returns the agents a caller may switch to, which excludes
// the security gate.
func (r *Registry) Selectable() []*Descriptor {
	var out []*Descriptor
	for _, d := range r.List() {
		if d.Name != GateAgentName {
			out = append(out, d)
		}
	}
	return out
}

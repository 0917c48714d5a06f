package graph

import (
	dagflow "dagflow"
)

// Plan is a resolved subgraph: every node appears after the nodes it
// depends on. Plans are built per request and are not shared.
type Plan struct {
	Nodes   []*dagflow.Node
	Outputs []string
	Inputs  []string

	defaults map[string]map[string]any
	index    map[string]int
}

func newPlan(order []*dagflow.Node, outputs, inputs []string, defaults map[string]map[string]any) *Plan {
	p := &Plan{
		Nodes:    order,
		Outputs:  outputs,
		Inputs:   inputs,
		defaults: defaults,
		index:    make(map[string]int, len(order)),
	}
	for i, n := range order {
		p.index[n.Name] = i
	}
	return p
}

// Has reports whether name is a node in the plan.
func (p *Plan) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Node returns the planned node called name.
func (p *Plan) Node(name string) (*dagflow.Node, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.Nodes[i], true
}

// Position returns the index of name in the execution order, or -1.
func (p *Plan) Position(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	return -1
}

// Names lists node names in execution order.
func (p *Plan) Names() []string {
	names := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		names[i] = n.Name
	}
	return names
}

// Dependencies returns the names node name waits on that are themselves
// nodes of the plan, excluding inputs and defaulted values.
func (p *Plan) Dependencies(name string) []string {
	n, ok := p.Node(name)
	if !ok {
		return nil
	}
	var deps []string
	for _, d := range n.Deps {
		if p.Has(d.Name) {
			deps = append(deps, d.Name)
		}
	}
	return deps
}

// Defaults returns, per node, the dependencies that will fall back to the
// default value that node declared. Two nodes may default the same name
// differently.
func (p *Plan) Defaults() map[string]map[string]any {
	out := make(map[string]map[string]any, len(p.defaults))
	for node, deps := range p.defaults {
		cp := make(map[string]any, len(deps))
		for k, v := range deps {
			cp[k] = v
		}
		out[node] = cp
	}
	return out
}

// Len is the number of nodes to execute.
func (p *Plan) Len() int {
	return len(p.Nodes)
}

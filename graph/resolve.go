// Package graph turns a registry and a set of requested outputs into the
// minimal, dependency-ordered list of nodes that must run.
package graph

import (
	"fmt"
	"reflect"

	dagflow "dagflow"
	"dagflow/nodes"
)

const (
	unvisited = iota
	visiting
	done
)

type resolver struct {
	reg    *nodes.Registry
	inputs map[string]any

	state    map[string]int
	stack    []string
	order    []*dagflow.Node
	used     []string
	usedSeen map[string]struct{}
	defaults map[string]map[string]any
}

// Resolve computes the plan for outputs. Names present in inputs are leaves
// and shadow nodes of the same name. The registry must have had its variant
// groups selected.
//
// The order is a depth-first post-order: requested outputs in the order
// given, dependencies in declaration order. Nodes not reachable from outputs
// are left out.
func Resolve(reg *nodes.Registry, outputs []string, inputs map[string]any) (*Plan, error) {
	if !reg.Selected() {
		return nil, fmt.Errorf("graph: %d variant groups not selected for a configuration: %w",
			len(reg.Groups()), dagflow.ErrConfig)
	}

	r := &resolver{
		reg:      reg,
		inputs:   inputs,
		state:    make(map[string]int),
		usedSeen: make(map[string]struct{}),
		defaults: make(map[string]map[string]any),
	}

	requested := make([]string, 0, len(outputs))
	seen := make(map[string]struct{}, len(outputs))
	for _, name := range outputs {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		requested = append(requested, name)
		if err := r.visit(name, nil); err != nil {
			return nil, err
		}
	}

	return newPlan(r.order, requested, r.used, r.defaults), nil
}

func (r *resolver) visit(name string, from *dagflow.Node) error {
	if val, ok := r.inputs[name]; ok {
		if err := r.checkInput(name, val, from); err != nil {
			return err
		}
		r.useInput(name)
		return nil
	}

	switch r.state[name] {
	case done:
		return r.checkNode(name, from)
	case visiting:
		start := 0
		for i, n := range r.stack {
			if n == name {
				start = i
				break
			}
		}
		cycle := append(append([]string(nil), r.stack[start:]...), name)
		return &dagflow.CycleError{Cycle: cycle}
	}

	n, ok := r.reg.Node(name)
	if !ok {
		if from != nil {
			if dep, ok := from.Dependency(name); ok && dep.HasDefault {
				if r.defaults[from.Name] == nil {
					r.defaults[from.Name] = make(map[string]any)
				}
				r.defaults[from.Name][name] = dep.Default
				return nil
			}
		}
		return &dagflow.MissingDependencyError{Name: name, RequiredBy: nameOf(from)}
	}

	r.state[name] = visiting
	r.stack = append(r.stack, name)
	for _, d := range n.Deps {
		if err := r.visit(d.Name, n); err != nil {
			return err
		}
	}
	r.stack = r.stack[:len(r.stack)-1]
	r.state[name] = done
	r.order = append(r.order, n)

	return r.checkNode(name, from)
}

func (r *resolver) useInput(name string) {
	if _, ok := r.usedSeen[name]; ok {
		return
	}
	r.usedSeen[name] = struct{}{}
	r.used = append(r.used, name)
}

// checkNode verifies that node name's declared output can satisfy from's
// declared dependency type.
func (r *resolver) checkNode(name string, from *dagflow.Node) error {
	if from == nil {
		return nil
	}
	dep, _ := from.Dependency(name)
	n, _ := r.reg.Node(name)
	if dep.Type == nil || n.Output == nil {
		return nil
	}
	if !assignable(n.Output, dep.Type) {
		return &dagflow.TypeMismatchError{Name: name, RequiredBy: from.Name, Want: dep.Type, Got: n.Output}
	}
	return nil
}

func (r *resolver) checkInput(name string, val any, from *dagflow.Node) error {
	if from == nil || val == nil {
		return nil
	}
	dep, _ := from.Dependency(name)
	got := reflect.TypeOf(val)
	if !dagflow.Compatible(got, dep.Type) {
		return &dagflow.TypeMismatchError{Name: name, RequiredBy: from.Name, Want: dep.Type, Got: got}
	}
	return nil
}

// assignable accepts an interface-typed producer for a concrete dependency;
// the concrete value is only known at run time.
func assignable(out, want reflect.Type) bool {
	if out.AssignableTo(want) {
		return true
	}
	return out.Kind() == reflect.Interface && want.Implements(out)
}

func nameOf(n *dagflow.Node) string {
	if n == nil {
		return ""
	}
	return n.Name
}

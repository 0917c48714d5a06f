package nodes

import (
	"errors"
	"fmt"
	"sort"

	dagflow "dagflow"
)

// Group is the set of variant nodes sharing a base name.
type Group struct {
	Base    string
	Members []*Node
}

// Names lists the full names of the group's members in registration order.
func (g *Group) Names() []string {
	names := make([]string, 0, len(g.Members))
	for _, n := range g.Members {
		names = append(names, n.Name)
	}
	return names
}

// Registry is the immutable table of nodes built from one or more modules.
type Registry struct {
	plain  map[string]*Node
	groups map[string]*Group
	order  []string
	owner  map[string]string
}

func newRegistry() *Registry {
	return &Registry{
		plain:  make(map[string]*Node),
		groups: make(map[string]*Group),
		owner:  make(map[string]string),
	}
}

// Build collects the nodes of every module into a registry. Every problem
// found is reported, joined into one error; each is a *dagflow.RegistryError.
func Build(modules ...Module) (*Registry, error) {
	reg := newRegistry()
	variants := make(map[string]string)
	var errs []error

	for _, mod := range modules {
		for _, n := range mod.Nodes {
			if err := validateNode(mod.Name, n); err != nil {
				errs = append(errs, err)
				continue
			}

			if n.Kind() == dagflow.KindPlain {
				if prev, ok := reg.owner[n.Name]; ok {
					errs = append(errs, &dagflow.RegistryError{
						Name:   n.Name,
						Reason: fmt.Sprintf("defined by both module %q and module %q", prev, mod.Name),
					})
					continue
				}
				reg.plain[n.Name] = n
				reg.owner[n.Name] = mod.Name
				reg.order = append(reg.order, n.Name)
				continue
			}

			if prev, ok := variants[n.Name]; ok {
				errs = append(errs, &dagflow.RegistryError{
					Name:   n.Name,
					Reason: fmt.Sprintf("variant defined by both module %q and module %q", prev, mod.Name),
				})
				continue
			}
			variants[n.Name] = mod.Name

			base := n.BaseName()
			g, ok := reg.groups[base]
			if !ok {
				g = &Group{Base: base}
				reg.groups[base] = g
				reg.order = append(reg.order, base)
			}
			g.Members = append(g.Members, n)
		}
	}

	for base := range reg.groups {
		if owner, ok := reg.owner[base]; ok {
			errs = append(errs, &dagflow.RegistryError{
				Name:   base,
				Reason: fmt.Sprintf("plain node from module %q collides with a variant group of the same name", owner),
			})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

func validateNode(module string, n *Node) error {
	if n == nil {
		return &dagflow.RegistryError{Reason: fmt.Sprintf("nil node in module %q", module)}
	}
	if n.Name == "" {
		return &dagflow.RegistryError{Reason: fmt.Sprintf("unnamed node in module %q", module)}
	}
	if n.Fn == nil {
		return &dagflow.RegistryError{Name: n.Name, Reason: "node has no body"}
	}
	seen := make(map[string]struct{}, len(n.Deps))
	for _, dep := range n.Deps {
		if dep.Name == "" {
			return &dagflow.RegistryError{Name: n.Name, Reason: "dependency with empty name"}
		}
		if _, dup := seen[dep.Name]; dup {
			return &dagflow.RegistryError{Name: n.Name, Reason: fmt.Sprintf("dependency %q declared twice", dep.Name)}
		}
		seen[dep.Name] = struct{}{}
	}
	return nil
}

// Node returns the plain node registered under name.
func (r *Registry) Node(name string) (*Node, bool) {
	n, ok := r.plain[name]
	return n, ok
}

// Group returns the unresolved variant group with the given base name.
func (r *Registry) Group(base string) (*Group, bool) {
	g, ok := r.groups[base]
	return g, ok
}

// Groups returns the unresolved variant groups sorted by base name.
func (r *Registry) Groups() []*Group {
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Base < groups[j].Base })
	return groups
}

// Selected reports whether every variant group has been resolved.
func (r *Registry) Selected() bool {
	return len(r.groups) == 0
}

// Nodes returns the plain nodes in registration order.
func (r *Registry) Nodes() []*Node {
	out := make([]*Node, 0, len(r.plain))
	for _, name := range r.order {
		if n, ok := r.plain[name]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Names returns every name the registry answers to, plain nodes and variant
// group bases alike, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	names = append(names, r.order...)
	sort.Strings(names)
	return names
}

// Module reports which module contributed the plain node name.
func (r *Registry) Module(name string) string {
	return r.owner[name]
}

// Len is the number of names the registry answers to.
func (r *Registry) Len() int {
	return len(r.order)
}

package nodes

import (
	"errors"

	dagflow "dagflow"
)

// Select resolves every variant group of reg against cfg. Each group must
// have exactly one active member, which takes over the group's base name in
// the returned registry. reg itself is left untouched.
//
// Groups with zero or several active members are reported as
// *dagflow.ConfigError; there is no precedence between variants.
func Select(reg *Registry, cfg dagflow.Config) (*Registry, error) {
	out := newRegistry()
	for name, n := range reg.plain {
		out.plain[name] = n
		out.owner[name] = reg.owner[name]
	}

	var errs []error
	for _, base := range reg.order {
		if n, ok := reg.plain[base]; ok {
			out.order = append(out.order, n.Name)
			continue
		}
		g := reg.groups[base]
		var matched []*Node
		for _, member := range g.Members {
			if member.When.Match(cfg) {
				matched = append(matched, member)
			}
		}
		if len(matched) != 1 {
			names := make([]string, 0, len(matched))
			for _, m := range matched {
				names = append(names, m.Name)
			}
			errs = append(errs, &dagflow.ConfigError{Group: base, Matched: names})
			continue
		}
		out.plain[base] = matched[0].Selected()
		out.order = append(out.order, base)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// BuildFor builds a registry from modules and resolves its variant groups
// against cfg in one step.
func BuildFor(cfg dagflow.Config, modules ...Module) (*Registry, error) {
	reg, err := Build(modules...)
	if err != nil {
		return nil, err
	}
	return Select(reg, cfg)
}

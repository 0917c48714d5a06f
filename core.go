package dagflow

import (
	"context"
	"reflect"
	"strings"
)

// VariantSeparator divides a variant node name into its base name and the
// variant suffix, as in "historical_features__batch".
const VariantSeparator = "__"

// NodeFunc is the body of a node. in holds exactly the values named by the
// node's declared dependencies.
type NodeFunc func(ctx context.Context, in Inputs) (any, error)

// Dependency names a value a node needs. Type is the expected Go type of the
// value; nil accepts anything.
type Dependency struct {
	Name string
	Type reflect.Type

	// Default is used when nothing in the graph or the provided inputs
	// supplies Name. Only consulted when HasDefault is set.
	Default    any
	HasDefault bool
}

// Kind distinguishes plain nodes from config-variant nodes.
type Kind int

const (
	KindPlain Kind = iota
	KindVariant
)

func (k Kind) String() string {
	switch k {
	case KindVariant:
		return "variant"
	default:
		return "plain"
	}
}

// Node is a named unit of computation in the graph. Nodes are built once and
// never mutated afterwards; helpers that need a different node return a copy.
type Node struct {
	Name   string
	Deps   []Dependency
	Output reflect.Type
	Doc    string

	// When gates the node on the build configuration. A node with a
	// predicate belongs to the variant group of its BaseName.
	When Predicate

	// Variant records the full name of the variant this node was selected
	// from. Empty for nodes that were never part of a variant group.
	Variant string

	Tags map[string]string
	Fn   NodeFunc
}

// Kind reports whether the node takes part in config-variant selection.
func (n *Node) Kind() Kind {
	if n.When != nil {
		return KindVariant
	}
	return KindPlain
}

// BaseName returns the name the node answers to once its variant group has
// been resolved. Plain nodes answer to their own name.
func (n *Node) BaseName() string {
	if n.When == nil {
		return n.Name
	}
	if idx := strings.LastIndex(n.Name, VariantSeparator); idx > 0 {
		return n.Name[:idx]
	}
	return n.Name
}

// DependencyNames lists the declared dependencies in declaration order.
func (n *Node) DependencyNames() []string {
	names := make([]string, 0, len(n.Deps))
	for _, dep := range n.Deps {
		names = append(names, dep.Name)
	}
	return names
}

// Dependency looks up a declared dependency by name.
func (n *Node) Dependency(name string) (Dependency, bool) {
	for _, dep := range n.Deps {
		if dep.Name == name {
			return dep, true
		}
	}
	return Dependency{}, false
}

// Run invokes the node body.
func (n *Node) Run(ctx context.Context, in Inputs) (any, error) {
	return n.Fn(ctx, in)
}

// Clone returns a shallow copy whose slices and maps can be modified
// without touching n.
func (n *Node) Clone() *Node {
	cp := *n
	cp.Deps = append([]Dependency(nil), n.Deps...)
	if n.Tags != nil {
		cp.Tags = make(map[string]string, len(n.Tags))
		for k, v := range n.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}

// Selected returns a plain copy of a variant node that answers to its base
// name.
func (n *Node) Selected() *Node {
	cp := n.Clone()
	cp.Variant = n.Name
	cp.Name = n.BaseName()
	cp.When = nil
	return cp
}

// Inputs carries the dependency values handed to a node body.
type Inputs map[string]any

// Dep fetches a dependency value from in and converts it to T.
//
// A nil value yields the zero T. Values that are not directly assignable are
// converted when nothing is lost: numbers that fit the target exactly, or
// JSON-shaped values decoded into a declared struct, slice or text type.
// Fractions and out-of-range numbers are a TypeMismatchError.
func Dep[T any](in Inputs, name string) (T, error) {
	var zero T
	val, ok := in[name]
	if !ok {
		return zero, &MissingDependencyError{Name: name}
	}
	if val == nil {
		return zero, nil
	}
	typed, ok := Coerce[T](val)
	if !ok {
		return zero, &TypeMismatchError{
			Name: name,
			Want: TypeOf[T](),
			Got:  reflect.TypeOf(val),
		}
	}
	return typed, nil
}

// TypeOf returns the reflect.Type of T, or nil when T is the empty interface.
func TypeOf[T any]() reflect.Type {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return nil
	}
	return t
}

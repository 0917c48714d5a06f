package nodes

import (
	"context"
	"fmt"
	"reflect"

	dagflow "dagflow"
)

// Option customises a node while it is being built.
type Option func(*Node)

// Doc attaches a human readable description.
func Doc(doc string) Option {
	return func(n *Node) { n.Doc = doc }
}

// When makes the node a config variant: it is only kept when pred matches
// the build configuration.
func When(pred dagflow.Predicate) Option {
	return func(n *Node) { n.When = pred }
}

// Tag attaches a free-form label.
func Tag(key, value string) Option {
	return func(n *Node) {
		if n.Tags == nil {
			n.Tags = make(map[string]string)
		}
		n.Tags[key] = value
	}
}

// Default supplies a fallback value for the dependency dep, used when neither
// the graph nor the provided inputs produce it.
func Default(dep string, value any) Option {
	return func(n *Node) {
		for i := range n.Deps {
			if n.Deps[i].Name == dep {
				n.Deps[i].Default = value
				n.Deps[i].HasDefault = true
				return
			}
		}
		panic(fmt.Sprintf("nodes: default for undeclared dependency %q of node %q", dep, n.Name))
	}
}

func newNode(name string, out reflect.Type, deps []dagflow.Dependency, fn dagflow.NodeFunc, opts []Option) *Node {
	n := &Node{Name: name, Deps: deps, Output: out, Fn: fn}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func dep[T any](name string) dagflow.Dependency {
	return dagflow.Dependency{Name: name, Type: dagflow.TypeOf[T]()}
}

// Func0 builds a node without dependencies.
func Func0[T any](name string, fn func(context.Context) (T, error), opts ...Option) *Node {
	return newNode(name, dagflow.TypeOf[T](), nil, func(ctx context.Context, _ dagflow.Inputs) (any, error) {
		return fn(ctx)
	}, opts)
}

// Func1 builds a node with one dependency named a.
func Func1[A, T any](name, a string, fn func(context.Context, A) (T, error), opts ...Option) *Node {
	deps := []dagflow.Dependency{dep[A](a)}
	return newNode(name, dagflow.TypeOf[T](), deps, func(ctx context.Context, in dagflow.Inputs) (any, error) {
		va, err := dagflow.Dep[A](in, a)
		if err != nil {
			return nil, err
		}
		return fn(ctx, va)
	}, opts)
}

// Func2 builds a node with dependencies a and b.
func Func2[A, B, T any](name, a, b string, fn func(context.Context, A, B) (T, error), opts ...Option) *Node {
	deps := []dagflow.Dependency{dep[A](a), dep[B](b)}
	return newNode(name, dagflow.TypeOf[T](), deps, func(ctx context.Context, in dagflow.Inputs) (any, error) {
		va, err := dagflow.Dep[A](in, a)
		if err != nil {
			return nil, err
		}
		vb, err := dagflow.Dep[B](in, b)
		if err != nil {
			return nil, err
		}
		return fn(ctx, va, vb)
	}, opts)
}

// Func3 builds a node with dependencies a, b and c.
func Func3[A, B, C, T any](name, a, b, c string, fn func(context.Context, A, B, C) (T, error), opts ...Option) *Node {
	deps := []dagflow.Dependency{dep[A](a), dep[B](b), dep[C](c)}
	return newNode(name, dagflow.TypeOf[T](), deps, func(ctx context.Context, in dagflow.Inputs) (any, error) {
		va, err := dagflow.Dep[A](in, a)
		if err != nil {
			return nil, err
		}
		vb, err := dagflow.Dep[B](in, b)
		if err != nil {
			return nil, err
		}
		vc, err := dagflow.Dep[C](in, c)
		if err != nil {
			return nil, err
		}
		return fn(ctx, va, vb, vc)
	}, opts)
}

// Func4 builds a node with dependencies a, b, c and d.
func Func4[A, B, C, D, T any](name, a, b, c, d string, fn func(context.Context, A, B, C, D) (T, error), opts ...Option) *Node {
	deps := []dagflow.Dependency{dep[A](a), dep[B](b), dep[C](c), dep[D](d)}
	return newNode(name, dagflow.TypeOf[T](), deps, func(ctx context.Context, in dagflow.Inputs) (any, error) {
		va, err := dagflow.Dep[A](in, a)
		if err != nil {
			return nil, err
		}
		vb, err := dagflow.Dep[B](in, b)
		if err != nil {
			return nil, err
		}
		vc, err := dagflow.Dep[C](in, c)
		if err != nil {
			return nil, err
		}
		vd, err := dagflow.Dep[D](in, d)
		if err != nil {
			return nil, err
		}
		return fn(ctx, va, vb, vc, vd)
	}, opts)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Reflect builds a node from an arbitrary function. Go does not expose
// parameter names, so params names the dependencies in parameter order. fn may
// take a leading context.Context and must return either (T) or (T, error).
func Reflect(name string, fn any, params []string, opts ...Option) (*Node, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, &dagflow.RegistryError{Name: name, Reason: fmt.Sprintf("body is %v, not a function", ft)}
	}

	offset := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		offset = 1
	}
	if ft.IsVariadic() || ft.NumIn()-offset != len(params) {
		return nil, &dagflow.RegistryError{
			Name:   name,
			Reason: fmt.Sprintf("function takes %d dependencies, %d names given", ft.NumIn()-offset, len(params)),
		}
	}
	withErr := ft.NumOut() == 2 && ft.Out(1) == errorType
	if ft.NumOut() != 1 && !withErr {
		return nil, &dagflow.RegistryError{Name: name, Reason: "function must return (T) or (T, error)"}
	}

	deps := make([]dagflow.Dependency, len(params))
	for i, p := range params {
		t := ft.In(i + offset)
		if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
			t = nil
		}
		deps[i] = dagflow.Dependency{Name: p, Type: t}
	}
	out := ft.Out(0)
	if out.Kind() == reflect.Interface && out.NumMethod() == 0 {
		out = nil
	}

	body := func(ctx context.Context, in dagflow.Inputs) (any, error) {
		args := make([]reflect.Value, 0, ft.NumIn())
		if offset == 1 {
			args = append(args, reflect.ValueOf(ctx))
		}
		for i, p := range params {
			arg, err := reflectArg(in, p, ft.In(i+offset))
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		res := fv.Call(args)
		if withErr && !res[1].IsNil() {
			return nil, res[1].Interface().(error)
		}
		return res[0].Interface(), nil
	}
	return newNode(name, out, deps, body, opts), nil
}

// MustReflect is Reflect for package-level node tables; it panics on error.
func MustReflect(name string, fn any, params []string, opts ...Option) *Node {
	n, err := Reflect(name, fn, params, opts...)
	if err != nil {
		panic(err)
	}
	return n
}

func reflectArg(in dagflow.Inputs, name string, want reflect.Type) (reflect.Value, error) {
	val, ok := in[name]
	if !ok {
		return reflect.Value{}, &dagflow.MissingDependencyError{Name: name}
	}
	if val == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(val)
	switch {
	case rv.Type().AssignableTo(want):
		return rv, nil
	case dagflow.IsNumericKind(rv.Kind()) && dagflow.IsNumericKind(want.Kind()):
		if out, ok := dagflow.ConvertNumeric(rv, want); ok {
			return out, nil
		}
	case rv.Type().ConvertibleTo(want) && dagflow.Compatible(rv.Type(), want) && rv.Kind() != reflect.String:
		return rv.Convert(want), nil
	}
	return reflect.Value{}, &dagflow.TypeMismatchError{Name: name, Want: want, Got: rv.Type()}
}

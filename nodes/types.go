package nodes

import (
	dagflow "dagflow"
)

// Node is an alias for the core node descriptor.
type Node = dagflow.Node

// Module is a named collection of nodes, the unit handed to Build.
type Module struct {
	Name  string
	Nodes []*Node
}

// NewModule groups nodes under a module name.
func NewModule(name string, nodes ...*Node) Module {
	return Module{Name: name, Nodes: nodes}
}

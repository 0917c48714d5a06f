package dagflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Sentinels for classifying failures with errors.Is.
var (
	ErrRegistry          = errors.New("registry error")
	ErrConfig            = errors.New("config error")
	ErrCycle             = errors.New("dependency cycle")
	ErrMissingDependency = errors.New("missing dependency")
	ErrTypeMismatch      = errors.New("type mismatch")
	ErrNodeExecution     = errors.New("node execution failed")
	ErrMissingOutput     = errors.New("missing output")
)

// RegistryError reports a malformed set of nodes, such as two plain nodes
// sharing a name.
type RegistryError struct {
	Name   string
	Reason string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry: node %q: %s", e.Name, e.Reason)
}

func (e *RegistryError) Is(target error) bool { return target == ErrRegistry }

// ConfigError reports a variant group where the configuration activates zero
// or several members. Matched lists the active members.
type ConfigError struct {
	Group   string
	Matched []string
}

func (e *ConfigError) Error() string {
	if len(e.Matched) == 0 {
		return fmt.Sprintf("config: no variant of %q matches the configuration", e.Group)
	}
	return fmt.Sprintf("config: %d variants of %q match the configuration: %s",
		len(e.Matched), e.Group, strings.Join(e.Matched, ", "))
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// CycleError lists the names forming a dependency cycle, starting and ending
// with the same name.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return "cycle detected: " + strings.Join(e.Cycle, " -> ")
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

// MissingDependencyError reports a name that is neither a provided input nor
// a known node. RequiredBy is empty when the name was requested directly.
type MissingDependencyError struct {
	Name       string
	RequiredBy string
}

func (e *MissingDependencyError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("missing dependency: %q is neither a provided input nor a known node", e.Name)
	}
	return fmt.Sprintf("missing dependency: %q required by %q is neither a provided input nor a known node", e.Name, e.RequiredBy)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }

// TypeMismatchError reports a value whose type cannot satisfy a declared
// dependency type.
type TypeMismatchError struct {
	Name       string
	RequiredBy string
	Want       reflect.Type
	Got        reflect.Type
}

func (e *TypeMismatchError) Error() string {
	msg := fmt.Sprintf("type mismatch: %q is %v, want %v", e.Name, e.Got, e.Want)
	if e.RequiredBy != "" {
		msg += fmt.Sprintf(" (required by %q)", e.RequiredBy)
	}
	return msg
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// NodeExecutionError wraps the failure of a single node body.
type NodeExecutionError struct {
	Node string
	Err  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.Node, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

func (e *NodeExecutionError) Is(target error) bool { return target == ErrNodeExecution }

// MissingOutputError reports a requested output absent from a finished
// execution. It signals an internal inconsistency.
type MissingOutputError struct {
	Name string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("missing output: %q was requested but not computed", e.Name)
}

func (e *MissingOutputError) Is(target error) bool { return target == ErrMissingOutput }

// IsResolutionError reports whether err stems from a malformed graph,
// configuration or input set rather than from running a node.
func IsResolutionError(err error) bool {
	for _, target := range []error{ErrRegistry, ErrConfig, ErrCycle, ErrMissingDependency, ErrTypeMismatch} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

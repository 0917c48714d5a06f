package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dagflow "dagflow"
	"dagflow/graph"
)

// Executor runs a resolved plan. Implementations share the same contract: a
// node starts only after all of its dependencies produced a value, the first
// node failure halts the run, and cancellation returns an error rather than
// partial state.
type Executor interface {
	Execute(ctx context.Context, plan *graph.Plan, inputs map[string]any) (*State, error)
}

// ExecutorOptions configures either executor.
type ExecutorOptions struct {
	Logger   hclog.Logger
	Monitors []Monitor
	// Tracer creates one span per node. Defaults to the global provider.
	Tracer trace.Tracer
	// MaxConcurrency bounds how many node bodies the async executor runs at
	// once. Zero means unbounded; 1 runs one body at a time.
	MaxConcurrency int
}

const tracerName = "dagflow/flows"

type runner struct {
	name     string
	logger   hclog.Logger
	monitors monitors
	tracer   trace.Tracer
}

func newRunner(name string, opts ExecutorOptions) runner {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return runner{
		name:     name,
		logger:   logger.Named(name),
		monitors: monitors(opts.Monitors),
		tracer:   tracer,
	}
}

// gather collects the dependency values of n from state, falling back to
// declared defaults.
func gather(n *dagflow.Node, state *State) (dagflow.Inputs, error) {
	in := make(dagflow.Inputs, len(n.Deps))
	for _, dep := range n.Deps {
		if v, ok := state.Get(dep.Name); ok {
			in[dep.Name] = v
			continue
		}
		if dep.HasDefault {
			in[dep.Name] = dep.Default
			continue
		}
		return nil, &dagflow.MissingDependencyError{Name: dep.Name, RequiredBy: n.Name}
	}
	return in, nil
}

// invoke runs a single node body, wrapping its failure (or panic) in a
// NodeExecutionError.
func (r runner) invoke(ctx context.Context, n *dagflow.Node, state *State) (val any, err error) {
	in, err := gather(n, state)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "node "+n.Name, trace.WithAttributes(
		attribute.String("dagflow.node", n.Name),
		attribute.String("dagflow.executor", r.name),
		attribute.String("dagflow.run_id", RunIDFromContext(ctx)),
	))
	if n.Variant != "" {
		span.SetAttributes(attribute.String("dagflow.variant", n.Variant))
	}
	start := time.Now()
	r.monitors.emit(ctx, FlowEvent{Type: FlowEventTypeNodeStart, Executor: r.name, Node: n.Name})

	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			err = &dagflow.NodeExecutionError{Node: n.Name, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.monitors.emit(ctx, FlowEvent{Type: FlowEventTypeNodeError, Executor: r.name, Node: n.Name, Duration: time.Since(start), Err: err})
		} else {
			r.monitors.emit(ctx, FlowEvent{Type: FlowEventTypeNodeEnd, Executor: r.name, Node: n.Name, Duration: time.Since(start)})
		}
		span.End()
	}()

	return n.Fn(ctx, in)
}

func (r runner) flowStart(ctx context.Context, plan *graph.Plan) {
	r.logger.Debug("executing plan", "run_id", RunIDFromContext(ctx), "nodes", plan.Len(), "outputs", plan.Outputs)
	r.monitors.emit(ctx, FlowEvent{
		Type:     FlowEventTypeFlowStart,
		Executor: r.name,
		Outputs:  plan.Outputs,
		Plan:     plan.Names(),
	})
}

func (r runner) flowComplete(ctx context.Context, start time.Time, err error) {
	r.monitors.emit(ctx, FlowEvent{
		Type:     FlowEventTypeFlowComplete,
		Executor: r.name,
		Duration: time.Since(start),
		Err:      err,
	})
}

// cancelled wraps the caller's cancellation cause.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("execution cancelled: %w", ctx.Err())
}

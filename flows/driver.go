package flows

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	dagflow "dagflow"
	"dagflow/graph"
	"dagflow/nodes"
)

// Driver binds a variant-resolved registry to an executor and a result
// builder. It is built once and shared; every Execute call gets its own
// plan and state.
type Driver struct {
	cfg      dagflow.Config
	registry *nodes.Registry
	executor Executor
	results  dagflow.ResultBuilder
	logger   hclog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*driverOptions)

type driverOptions struct {
	executor Executor
	results  dagflow.ResultBuilder
	logger   hclog.Logger
	monitors []Monitor
	async    bool
	limit    int
}

// WithExecutor sets the executor. It takes precedence over WithAsync and
// WithMonitors.
func WithExecutor(e Executor) DriverOption {
	return func(o *driverOptions) { o.executor = e }
}

// WithAsync selects the asynchronous executor, running at most limit node
// bodies at once (zero for no bound).
func WithAsync(limit int) DriverOption {
	return func(o *driverOptions) {
		o.async = true
		o.limit = limit
	}
}

// WithResultBuilder replaces the default DictResult.
func WithResultBuilder(b dagflow.ResultBuilder) DriverOption {
	return func(o *driverOptions) { o.results = b }
}

// WithLogger sets the logger for the driver and its default executor.
func WithLogger(l hclog.Logger) DriverOption {
	return func(o *driverOptions) { o.logger = l }
}

// WithMonitors registers observability hooks on the default executor.
func WithMonitors(ms ...Monitor) DriverOption {
	return func(o *driverOptions) { o.monitors = append(o.monitors, ms...) }
}

// NewDriver builds the registry from modules and resolves its variant groups
// against cfg. Registry and configuration errors surface here, before any
// request is served.
func NewDriver(cfg dagflow.Config, modules []nodes.Module, opts ...DriverOption) (*Driver, error) {
	o := driverOptions{results: dagflow.DictResult{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = hclog.NewNullLogger()
	}

	reg, err := nodes.BuildFor(cfg, modules...)
	if err != nil {
		return nil, err
	}

	exec := o.executor
	if exec == nil {
		eo := ExecutorOptions{Logger: o.logger, Monitors: o.monitors, MaxConcurrency: o.limit}
		if o.async {
			exec = NewAsyncExecutor(eo)
		} else {
			exec = NewSyncExecutor(eo)
		}
	}

	o.logger.Debug("driver ready", "nodes", reg.Len(), "config", cfg.Keys())
	return &Driver{
		cfg:      cfg.Clone(),
		registry: reg,
		executor: exec,
		results:  o.results,
		logger:   o.logger,
	}, nil
}

// Registry returns the variant-resolved registry.
func (d *Driver) Registry() *nodes.Registry { return d.registry }

// Config returns a copy of the configuration the driver was built with.
func (d *Driver) Config() dagflow.Config { return d.cfg.Clone() }

// Plan resolves outputs without running anything.
func (d *Driver) Plan(outputs []string, inputs map[string]any) (*graph.Plan, error) {
	return graph.Resolve(d.registry, outputs, inputs)
}

// Execute resolves, runs and shapes the requested outputs. Resolution errors
// are returned unchanged; node failures arrive as *dagflow.NodeExecutionError.
func (d *Driver) Execute(ctx context.Context, outputs []string, inputs map[string]any) (dagflow.Result, error) {
	ctx, runID := ensureRunID(ctx)
	plan, err := graph.Resolve(d.registry, outputs, inputs)
	if err != nil {
		d.logger.Debug("resolution failed", "run_id", runID, "outputs", outputs, "error", err)
		return nil, err
	}
	state, err := d.executor.Execute(ctx, plan, inputs)
	if err != nil {
		return nil, err
	}
	return d.results.Build(state.Snapshot(), plan.Outputs)
}

// Run is the one-shot form of NewDriver followed by Execute.
func Run(ctx context.Context, exec Executor, cfg dagflow.Config, outputs []string, inputs map[string]any, modules ...nodes.Module) (dagflow.Result, error) {
	if exec == nil {
		return nil, fmt.Errorf("flows: nil executor")
	}
	d, err := NewDriver(cfg, modules, WithExecutor(exec))
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, outputs, inputs)
}

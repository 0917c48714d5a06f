package flows

import (
	"context"
	"time"

	"dagflow/graph"
)

// SyncExecutor runs a plan on the calling goroutine, strictly in plan order.
type SyncExecutor struct {
	runner
}

// NewSyncExecutor creates a synchronous executor.
func NewSyncExecutor(opts ExecutorOptions) *SyncExecutor {
	return &SyncExecutor{runner: newRunner("sync", opts)}
}

// Execute runs every node of plan in order and returns the filled state. It
// stops at the first failing node; later nodes are never started.
func (e *SyncExecutor) Execute(ctx context.Context, plan *graph.Plan, inputs map[string]any) (state *State, err error) {
	ctx, _ = ensureRunID(ctx)
	start := time.Now()
	e.flowStart(ctx, plan)
	defer func() { e.flowComplete(ctx, start, err) }()

	state = newState(inputs)
	for _, n := range plan.Nodes {
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}

		val, err := e.invoke(ctx, n, state)
		if err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(ctx)
			}
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, cancelled(ctx)
		}
		state.set(n.Name, val)
	}
	return state, nil
}

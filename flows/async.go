package flows

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	dagflow "dagflow"
	"dagflow/graph"
)

// AsyncExecutor starts each node as soon as its dependencies completed, so
// nodes without a data dependency between them may run concurrently.
type AsyncExecutor struct {
	runner
	limit int
}

// NewAsyncExecutor creates an asynchronous executor.
func NewAsyncExecutor(opts ExecutorOptions) *AsyncExecutor {
	return &AsyncExecutor{runner: newRunner("async", opts), limit: opts.MaxConcurrency}
}

type completion struct {
	node *dagflow.Node
	val  any
	err  error
}

// Execute runs plan and returns the filled state.
//
// Scheduling happens on the calling goroutine; bodies run on an errgroup.
// The first failure, or cancellation of ctx, stops new nodes from starting
// and cancels the context seen by running bodies. A body that returns after
// that point has its value discarded.
func (e *AsyncExecutor) Execute(ctx context.Context, plan *graph.Plan, inputs map[string]any) (state *State, err error) {
	ctx, _ = ensureRunID(ctx)
	start := time.Now()
	e.flowStart(ctx, plan)
	defer func() { e.flowComplete(ctx, start, err) }()

	state = newState(inputs)
	if plan.Len() == 0 {
		return state, nil
	}

	pending := make(map[string]int, plan.Len())
	dependents := make(map[string][]*dagflow.Node, plan.Len())
	var ready []*dagflow.Node
	for _, n := range plan.Nodes {
		deps := plan.Dependencies(n.Name)
		pending[n.Name] = len(deps)
		for _, d := range deps {
			dependents[d] = append(dependents[d], n)
		}
		if len(deps) == 0 {
			ready = append(ready, n)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan completion, plan.Len())
	running, finished := 0, 0
	var firstErr error

	for finished < plan.Len() {
		for len(ready) > 0 && firstErr == nil && gctx.Err() == nil && (e.limit <= 0 || running < e.limit) {
			n := ready[0]
			ready = ready[1:]
			running++
			g.Go(func() error {
				val, err := e.invoke(gctx, n, state)
				results <- completion{node: n, val: val, err: err}
				return err
			})
		}
		if running == 0 {
			break
		}

		c := <-results
		running--
		if c.err != nil {
			if firstErr == nil {
				firstErr = c.err
			}
			continue
		}
		if gctx.Err() != nil {
			e.logger.Debug("discarding result of node finished after cancellation", "node", c.node.Name)
			continue
		}
		state.set(c.node.Name, c.val)
		finished++
		for _, d := range dependents[c.node.Name] {
			pending[d.Name]--
			if pending[d.Name] == 0 {
				ready = append(ready, d)
			}
		}
	}
	_ = g.Wait()

	switch {
	case ctx.Err() != nil:
		return nil, cancelled(ctx)
	case firstErr != nil:
		return nil, firstErr
	case finished < plan.Len():
		return nil, fmt.Errorf("flows: %d of %d nodes never became ready", plan.Len()-finished, plan.Len())
	}
	return state, nil
}

package flows

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	dagflow "dagflow"
	"dagflow/graph"
	"dagflow/nodes"
)

type recordingMonitor struct {
	mu     sync.Mutex
	events []FlowEvent
}

func (m *recordingMonitor) Notify(_ context.Context, event FlowEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *recordingMonitor) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = string(e.Type)
		if e.Node != "" {
			out[i] += ":" + e.Node
		}
	}
	return out
}

func chainModule() nodes.Module {
	a := nodes.Func0("a", func(context.Context) (int, error) { return 1, nil })
	b := nodes.Func1("b", "a", func(_ context.Context, a int) (int, error) { return a + 1, nil })
	return nodes.NewModule("chain", a, b)
}

func executors(opts ExecutorOptions) map[string]Executor {
	return map[string]Executor{
		"sync":  NewSyncExecutor(opts),
		"async": NewAsyncExecutor(opts),
	}
}

func plan(t *testing.T, outputs []string, inputs map[string]any, mods ...nodes.Module) *graph.Plan {
	t.Helper()
	reg, err := nodes.BuildFor(nil, mods...)
	require.NoError(t, err)
	p, err := graph.Resolve(reg, outputs, inputs)
	require.NoError(t, err)
	return p
}

func TestExecuteChain(t *testing.T) {
	for name, exec := range executors(ExecutorOptions{}) {
		t.Run(name, func(t *testing.T) {
			res, err := Run(context.Background(), exec, nil, []string{"b"}, nil, chainModule())
			require.NoError(t, err)
			assert.Equal(t, dagflow.Result{"b": 2}, res)

			res, err = Run(context.Background(), exec, nil, []string{"b"}, map[string]any{"a": 41}, chainModule())
			require.NoError(t, err)
			assert.Equal(t, dagflow.Result{"b": 42}, res)
		})
	}
}

func TestExecuteUsesDefaults(t *testing.T) {
	scaled := nodes.Func2("scaled", "value", "factor", func(_ context.Context, v, f int) (int, error) {
		return v * f, nil
	}, nodes.Default("factor", 3))
	for name, exec := range executors(ExecutorOptions{}) {
		t.Run(name, func(t *testing.T) {
			res, err := Run(context.Background(), exec, nil, []string{"scaled"}, map[string]any{"value": 2}, nodes.NewModule("m", scaled))
			require.NoError(t, err)
			assert.Equal(t, 6, res["scaled"])
		})
	}
}

// pushModule models a feature store write: the push only happens once the
// store itself was constructed.
func pushModule(storeErr error, pushed *atomic.Int32) nodes.Module {
	store := nodes.Func0("feature_store", func(context.Context) (string, error) {
		if storeErr != nil {
			return "", storeErr
		}
		return "store", nil
	})
	push := nodes.Func2("push", "feature_store", "push_source", func(_ context.Context, store, source string) (bool, error) {
		pushed.Add(1)
		return true, nil
	})
	return nodes.NewModule("features", store, push)
}

func TestFailingDependencyStopsDownstream(t *testing.T) {
	for name, exec := range executors(ExecutorOptions{}) {
		t.Run(name, func(t *testing.T) {
			var pushed atomic.Int32
			cause := errors.New("repo path does not exist")
			_, err := Run(context.Background(), exec, nil, []string{"push"},
				map[string]any{"push_source": "driver_stats_push_source"}, pushModule(cause, &pushed))

			var execErr *dagflow.NodeExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "feature_store", execErr.Node)
			assert.ErrorIs(t, err, cause)
			assert.Zero(t, pushed.Load(), "push must never be attempted")
		})
	}
}

func TestSideEffectsRunOnlyWhenRequested(t *testing.T) {
	var pushed atomic.Int32
	mod := pushModule(nil, &pushed)
	in := map[string]any{"push_source": "src"}

	res, err := Run(context.Background(), NewSyncExecutor(ExecutorOptions{}), nil, []string{"feature_store"}, in, mod)
	require.NoError(t, err)
	assert.Equal(t, "store", res["feature_store"])
	assert.Zero(t, pushed.Load())

	res, err = Run(context.Background(), NewSyncExecutor(ExecutorOptions{}), nil, []string{"push"}, in, mod)
	require.NoError(t, err)
	assert.True(t, res.Bool("push"))
	assert.Equal(t, int32(1), pushed.Load())
}

func TestSyncStopsAtFirstFailure(t *testing.T) {
	var laterRan atomic.Bool
	fail := nodes.Func0("fail", func(context.Context) (int, error) { return 0, errors.New("boom") })
	later := nodes.Func0("later", func(context.Context) (int, error) { laterRan.Store(true); return 1, nil })

	for name, exec := range map[string]Executor{
		"sync":  NewSyncExecutor(ExecutorOptions{}),
		"async": NewAsyncExecutor(ExecutorOptions{MaxConcurrency: 1}),
	} {
		t.Run(name, func(t *testing.T) {
			laterRan.Store(false)
			p := plan(t, []string{"fail", "later"}, nil, nodes.NewModule("m", fail, later))
			state, err := exec.Execute(context.Background(), p, nil)
			assert.Nil(t, state)
			assert.ErrorIs(t, err, dagflow.ErrNodeExecution)
			assert.False(t, laterRan.Load())
		})
	}
}

func TestAsyncRunsIndependentNodesConcurrently(t *testing.T) {
	var arrived atomic.Int32
	barrier := func(ctx context.Context) (int, error) {
		arrived.Add(1)
		deadline := time.After(2 * time.Second)
		for arrived.Load() < 2 {
			select {
			case <-deadline:
				return 0, errors.New("peer never started")
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
		return 1, nil
	}
	x := nodes.Func0("x", barrier)
	y := nodes.Func0("y", barrier)
	both := nodes.Func2("both", "x", "y", func(_ context.Context, x, y int) (int, error) { return x + y, nil })

	res, err := Run(context.Background(), NewAsyncExecutor(ExecutorOptions{}), nil, []string{"both"}, nil,
		nodes.NewModule("m", x, y, both))
	require.NoError(t, err)
	assert.Equal(t, 2, res["both"])
}

func TestAsyncMaxConcurrency(t *testing.T) {
	var inflight, peak atomic.Int32
	work := func(context.Context) (int, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return 1, nil
	}
	mod := nodes.NewModule("m",
		nodes.Func0("w1", work), nodes.Func0("w2", work), nodes.Func0("w3", work), nodes.Func0("w4", work))

	exec := NewAsyncExecutor(ExecutorOptions{MaxConcurrency: 1})
	res, err := Run(context.Background(), exec, nil, []string{"w1", "w2", "w3", "w4"}, nil, mod)
	require.NoError(t, err)
	assert.Len(t, res, 4)
	assert.Equal(t, int32(1), peak.Load())
}

func TestExecuteCancellation(t *testing.T) {
	for name, exec := range executors(ExecutorOptions{}) {
		t.Run(name, func(t *testing.T) {
			started := make(chan struct{})
			var afterRan atomic.Bool
			block := nodes.Func0("block", func(ctx context.Context) (int, error) {
				close(started)
				<-ctx.Done()
				return 0, ctx.Err()
			})
			after := nodes.Func1("after", "block", func(_ context.Context, v int) (int, error) {
				afterRan.Store(true)
				return v, nil
			})
			p := plan(t, []string{"after"}, nil, nodes.NewModule("m", block, after))

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-started
				cancel()
			}()
			state, err := exec.Execute(ctx, p, nil)
			assert.Nil(t, state)
			assert.ErrorIs(t, err, context.Canceled)
			assert.False(t, afterRan.Load())
		})
	}
}

func TestExecuteDiscardsLateResult(t *testing.T) {
	for _, name := range []string{"sync", "async"} {
		t.Run(name, func(t *testing.T) {
			started, release := make(chan struct{}), make(chan struct{})
			var returned, afterRan atomic.Bool
			stubborn := nodes.Func0("stubborn", func(context.Context) (int, error) {
				close(started)
				<-release
				returned.Store(true)
				return 5, nil
			})
			after := nodes.Func1("after", "stubborn", func(_ context.Context, v int) (int, error) {
				afterRan.Store(true)
				return v, nil
			})
			monitor := &recordingMonitor{}
			exec := executors(ExecutorOptions{Monitors: []Monitor{monitor}})[name]
			p := plan(t, []string{"after"}, nil, nodes.NewModule("m", stubborn, after))

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				<-started
				cancel()
				close(release)
			}()
			state, err := exec.Execute(ctx, p, nil)
			assert.Nil(t, state)
			assert.ErrorIs(t, err, context.Canceled)
			assert.True(t, returned.Load(), "the body finished with a value")
			assert.False(t, afterRan.Load(), "dependents of a discarded value never start")
			assert.NotContains(t, monitor.types(), "node_start:after")
		})
	}
}

func TestExecuteRecoversPanics(t *testing.T) {
	bad := nodes.Func0("bad", func(context.Context) (int, error) { panic("nil map") })
	for name, exec := range executors(ExecutorOptions{}) {
		t.Run(name, func(t *testing.T) {
			_, err := Run(context.Background(), exec, nil, []string{"bad"}, nil, nodes.NewModule("m", bad))
			var execErr *dagflow.NodeExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "bad", execErr.Node)
			assert.Contains(t, err.Error(), "panic: nil map")
		})
	}
}

func TestMonitorEvents(t *testing.T) {
	monitor := &recordingMonitor{}
	exec := NewSyncExecutor(ExecutorOptions{Monitors: []Monitor{monitor}})
	ctx := WithRunID(context.Background(), "run-1")

	_, err := exec.Execute(ctx, plan(t, []string{"b"}, nil, chainModule()), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"flow_start", "node_start:a", "node_end:a", "node_start:b", "node_end:b", "flow_complete",
	}, monitor.types())
	for _, e := range monitor.events {
		assert.Equal(t, "run-1", e.RunID)
		assert.Equal(t, "sync", e.Executor)
		assert.False(t, e.Timestamp.IsZero())
	}
	assert.Equal(t, []string{"a", "b"}, monitor.events[0].Plan)
}

func TestMonitorEventsOnFailure(t *testing.T) {
	monitor := &recordingMonitor{}
	exec := NewAsyncExecutor(ExecutorOptions{Monitors: []Monitor{monitor}})
	var pushed atomic.Int32

	_, err := exec.Execute(context.Background(),
		plan(t, []string{"push"}, map[string]any{"push_source": "s"}, pushModule(errors.New("boom"), &pushed)),
		map[string]any{"push_source": "s"})
	require.Error(t, err)

	types := monitor.types()
	assert.Contains(t, types, "node_error:feature_store")
	assert.NotContains(t, types, "node_start:push")
	last := monitor.events[len(monitor.events)-1]
	assert.Equal(t, FlowEventTypeFlowComplete, last.Type)
	assert.ErrorIs(t, last.Err, dagflow.ErrNodeExecution)
	assert.NotEmpty(t, last.RunID)
}

func TestLogMonitor(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Trace, JSONFormat: true})
	exec := NewSyncExecutor(ExecutorOptions{Monitors: []Monitor{LogMonitor{Logger: logger}}})

	_, err := exec.Execute(context.Background(), plan(t, []string{"b"}, nil, chainModule()), nil)
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, `"execution complete"`)
	assert.Contains(t, out, `"node":"b"`)

	LogMonitor{}.Notify(context.Background(), FlowEvent{Type: FlowEventTypeFlowStart})
}

func TestExecuteTracesNodes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	fail := nodes.Func1("fail", "b", func(context.Context, int) (int, error) { return 0, errors.New("boom") })
	mod := chainModule()
	mod.Nodes = append(mod.Nodes, fail)

	exec := NewAsyncExecutor(ExecutorOptions{Tracer: tp.Tracer("test")})
	_, err := exec.Execute(context.Background(), plan(t, []string{"fail"}, nil, mod), nil)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	byName := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range spans {
		byName[s.Name()] = s
	}
	require.Contains(t, byName, "node a")
	require.Contains(t, byName, "node b")
	require.Contains(t, byName, "node fail")
	assert.Equal(t, codes.Error, byName["node fail"].Status().Code)
	assert.Equal(t, codes.Unset, byName["node a"].Status().Code)
}

func TestStateIsolation(t *testing.T) {
	p := plan(t, []string{"b"}, nil, chainModule())
	exec := NewSyncExecutor(ExecutorOptions{})
	inputs := map[string]any{}

	first, err := exec.Execute(context.Background(), p, inputs)
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), p, inputs)
	require.NoError(t, err)

	assert.Empty(t, inputs, "inputs must not be written to")
	assert.Equal(t, first.Snapshot(), second.Snapshot())
	assert.Equal(t, 2, first.Len())
	v, ok := first.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

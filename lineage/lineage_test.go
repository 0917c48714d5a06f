package lineage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dagflow "dagflow"
	"dagflow/flows"
	kvstore "dagflow/kv"
	"dagflow/nodes"
)

func pipeline(fail bool) nodes.Module {
	store := nodes.Func0("feature_store", func(context.Context) (string, error) {
		if fail {
			return "", errors.New("no repo")
		}
		return "store", nil
	})
	push := nodes.Func1("push", "feature_store", func(context.Context, string) (bool, error) { return true, nil })
	return nodes.NewModule("features", store, push)
}

func TestRecorderStoresRuns(t *testing.T) {
	rec := NewRecorder(NewKVStore(kvstore.NewInMemoryKVStore()), func(err error) { t.Errorf("save: %v", err) })
	d, err := flows.NewDriver(nil, []nodes.Module{pipeline(false)}, flows.WithMonitors(rec))
	require.NoError(t, err)

	ctx := flows.WithRunID(context.Background(), "run-ok")
	_, err = d.Execute(ctx, []string{"push"}, nil)
	require.NoError(t, err)

	got, err := rec.Load(context.Background(), "run-ok")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, "sync", got.Executor)
	assert.Equal(t, []string{"push"}, got.Outputs)
	assert.Equal(t, []string{"feature_store", "push"}, got.Plan)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "feature_store", got.Nodes[0].Name)
	assert.False(t, got.Nodes[0].Started.IsZero())
	assert.Empty(t, got.Error)

	ids, err := rec.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-ok"}, ids)
}

func TestRecorderStoresFailures(t *testing.T) {
	rec := NewRecorder(NewKVStore(kvstore.NewInMemoryKVStore()), nil)
	d, err := flows.NewDriver(nil, []nodes.Module{pipeline(true)}, flows.WithAsync(0), flows.WithMonitors(rec))
	require.NoError(t, err)

	_, err = d.Execute(flows.WithRunID(context.Background(), "run-bad"), []string{"push"}, nil)
	require.ErrorIs(t, err, dagflow.ErrNodeExecution)

	got, err := rec.Load(context.Background(), "run-bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "feature_store")
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, StatusFailed, got.Nodes[0].Status)
	assert.Contains(t, got.Nodes[0].Error, "no repo")
}

func TestRecorderExposesRunsInFlight(t *testing.T) {
	rec := NewRecorder(NewKVStore(kvstore.NewInMemoryKVStore()), nil)
	ctx := context.Background()
	now := time.Now()
	rec.Notify(ctx, flows.FlowEvent{Type: flows.FlowEventTypeFlowStart, RunID: "r", Timestamp: now, Plan: []string{"a"}})
	rec.Notify(ctx, flows.FlowEvent{Type: flows.FlowEventTypeNodeStart, RunID: "r", Node: "a", Timestamp: now})

	got, err := rec.Load(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)

	ids, err := rec.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = rec.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestKVStoreListsOldestFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	backing, err := kvstore.NewFileBasedKVStore(path)
	require.NoError(t, err)
	s := NewKVStore(backing)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, &Record{RunID: "a-late", Started: base.Add(time.Hour)}))
	require.NoError(t, s.Save(ctx, &Record{RunID: "z-early", Started: base}))

	reopened, err := kvstore.NewFileBasedKVStore(path)
	require.NoError(t, err)
	ids, err := NewKVStore(reopened).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"z-early", "a-late"}, ids)
}

package featurestore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dagflow "dagflow"
	"dagflow/flows"
	"dagflow/nodes"
)

const repoHCL = `
project = "driver_stats"

entity "driver" {
  join_keys   = ["driver_id"]
  description = "driver id"
}

push_source "driver_stats_push_source" {
  batch_source = "driver_hourly_stats_source"
}

feature_view "driver_hourly_stats" {
  entities = ["driver"]
  ttl      = config.ttl
  source   = "driver_stats_push_source"

  field "conv_rate" {
    dtype = "float32"
  }
  field "acc_rate" {
    dtype = "float32"
  }
}

feature_service "driver_activity" {
  features = ["driver_hourly_stats:conv_rate", "driver_hourly_stats:acc_rate"]
}
`

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func loadObjects(t *testing.T) Objects {
	t.Helper()
	return loadObjectsTTL(t, "24h")
}

func loadObjectsTTL(t *testing.T, ttl string) Objects {
	t.Helper()
	objs, err := ParseRepo([]byte(repoHCL), "repo.hcl", map[string]any{"ttl": ttl})
	require.NoError(t, err)
	return objs
}

func seeded(t *testing.T) *MemoryClient {
	t.Helper()
	return seededTTL(t, "24h")
}

func seededTTL(t *testing.T, ttl string) *MemoryClient {
	t.Helper()
	c := NewMemoryClient(loadObjectsTTL(t, ttl))
	rows := NewFrame("driver_id", "event_timestamp", "conv_rate", "acc_rate")
	require.NoError(t, rows.AddRow(1001, base, 0.1, 0.9))
	require.NoError(t, rows.AddRow(1001, base.Add(2*time.Hour), 0.2, 0.8))
	require.NoError(t, rows.AddRow(1002, base.Add(time.Hour), 0.5, 0.5))
	require.NoError(t, c.Push(context.Background(), "driver_stats_push_source", rows, PushOffline))
	return c
}

func TestParsePushMode(t *testing.T) {
	m, err := ParsePushMode(" ONLINE_and_offline ")
	require.NoError(t, err)
	assert.Equal(t, PushOnlineAndOffline, m)

	for _, bad := range []string{"", "3", "both"} {
		_, err := ParsePushMode(bad)
		assert.Error(t, err, bad)
	}

	var decoded PushMode
	require.NoError(t, decoded.UnmarshalText([]byte("offline")))
	assert.Equal(t, PushOffline, decoded)
	assert.Error(t, decoded.UnmarshalText([]byte("1")))

	coerced, ok := dagflow.Coerce[PushMode]("online")
	assert.True(t, ok)
	assert.Equal(t, PushOnline, coerced)
	_, ok = dagflow.Coerce[PushMode]("sideways")
	assert.False(t, ok)
	_, ok = dagflow.Coerce[PushMode](float64(1))
	assert.False(t, ok, "numeric push modes are rejected")

	_, err = PushMode("2").MarshalText()
	assert.Error(t, err)
}

func TestParseRepo(t *testing.T) {
	objs := loadObjects(t)
	assert.Equal(t, "driver_stats", objs.Project)
	require.Len(t, objs.FeatureViews, 1)
	v := objs.FeatureViews[0]
	assert.Equal(t, "24h", v.TTL)
	assert.Equal(t, 24*time.Hour, v.ttl())
	assert.Equal(t, []string{"driver_id"}, objs.joinKeys(v))
	assert.Len(t, v.Fields, 2)

	_, err := ParseRepo([]byte(`feature_view "v" {
  entities = ["ghost"]
  source   = "nowhere"
}`), "bad.hcl", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity "ghost"`)
	assert.Contains(t, err.Error(), `unknown push source "nowhere"`)

	_, err = ParseRepo([]byte(`entity "x" {`), "broken.hcl", nil)
	assert.Error(t, err)
}

func TestLoadRepoDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_entities.hcl"), []byte(`entity "driver" {
  join_keys = ["driver_id"]
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_views.hcl"), []byte(`feature_view "stats" {
  entities = ["driver"]
  field "trips" {
    dtype = "int64"
  }
}`), 0o644))

	objs, err := LoadRepo(dir, nil)
	require.NoError(t, err)
	assert.Len(t, objs.Entities, 1)
	assert.Len(t, objs.FeatureViews, 1)

	_, err = LoadRepo(filepath.Join(dir, "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHistoricalFeaturesPointInTime(t *testing.T) {
	c := seeded(t)
	entity := NewFrame("driver_id", "event_timestamp")
	require.NoError(t, entity.AddRow(1001, base.Add(time.Hour)))
	require.NoError(t, entity.AddRow(1001, base.Add(3*time.Hour)))
	require.NoError(t, entity.AddRow(1002, base.Add(30*time.Minute)))
	require.NoError(t, entity.AddRow(1001, base.Add(48*time.Hour)))

	out, err := c.HistoricalFeatures(context.Background(), entity, []string{"driver_hourly_stats:conv_rate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"driver_id", "event_timestamp", "conv_rate"}, out.Columns)
	var got []any
	for i := range out.Rows {
		got = append(got, out.Value(i, "conv_rate"))
	}
	assert.Equal(t, []any{0.1, 0.2, nil, nil}, got, "the last row is outside the 24h ttl")

	_, err = c.HistoricalFeatures(context.Background(), NewFrame("driver_id"), []string{"driver_hourly_stats:conv_rate"})
	assert.Error(t, err)
	_, err = c.HistoricalFeatures(context.Background(), entity, []string{"driver_hourly_stats:speed"})
	assert.Error(t, err)
}

func TestOnlineFeaturesAndMaterialize(t *testing.T) {
	c := seeded(t)
	ctx := context.Background()
	rows := []map[string]any{{"driver_id": 1001}, {"driver_id": 1002}}

	out, err := c.OnlineFeatures(ctx, rows, []string{"driver_activity"})
	require.NoError(t, err)
	assert.Equal(t, []string{"driver_id", "conv_rate", "acc_rate"}, out.Columns)
	assert.Nil(t, out.Value(0, "conv_rate"), "offline pushes are not online until materialized")

	require.NoError(t, c.MaterializeIncremental(ctx, base.Add(time.Hour)))
	out, err = c.OnlineFeatures(ctx, rows, []string{"driver_activity"})
	require.NoError(t, err)
	assert.Equal(t, 0.1, out.Value(0, "conv_rate"))
	assert.Equal(t, 0.5, out.Value(1, "conv_rate"))

	require.NoError(t, c.MaterializeIncremental(ctx, base.Add(3*time.Hour)))
	out, err = c.OnlineFeatures(ctx, rows, []string{"driver_hourly_stats:acc_rate"})
	require.NoError(t, err)
	assert.Equal(t, 0.8, out.Value(0, "acc_rate"))

	live := NewFrame("driver_id", "event_timestamp", "conv_rate")
	require.NoError(t, live.AddRow(1003, base.Add(4*time.Hour), 0.7))
	require.NoError(t, c.Push(ctx, "driver_stats_push_source", live, PushOnline))
	out, err = c.OnlineFeatures(ctx, []map[string]any{{"driver_id": float64(1003)}}, []string{"driver_hourly_stats:conv_rate"})
	require.NoError(t, err)
	assert.Equal(t, 0.7, out.Value(0, "conv_rate"))

	assert.Error(t, c.Push(ctx, "unknown_source", live, PushOnline))
	assert.Error(t, c.Push(ctx, "driver_stats_push_source", live, PushMode("1")))
}

func TestPushIsAllOrNothing(t *testing.T) {
	objs, err := ParseRepo([]byte(`
entity "driver" {
  join_keys = ["driver_id"]
}

push_source "stats" {}

feature_view "hourly" {
  entities = ["driver"]
  source   = "stats"
  field "conv_rate" {
    dtype = "float32"
  }
}

feature_view "daily" {
  entities        = ["driver"]
  source          = "stats"
  timestamp_field = "created"
  field "conv_rate" {
    dtype = "float32"
  }
}
`), "repo.hcl", nil)
	require.NoError(t, err)
	c := NewMemoryClient(objs)

	rows := NewFrame("driver_id", "event_timestamp", "conv_rate")
	require.NoError(t, rows.AddRow(1001, base, 0.3))
	err = c.Push(context.Background(), "stats", rows, PushOnlineAndOffline)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `lack column "created"`)

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.offline["hourly"], "no view is written when another view rejects the rows")
	assert.Empty(t, c.online["hourly"])
}

func TestApply(t *testing.T) {
	c := NewMemoryClient(Objects{})
	require.NoError(t, c.Apply(context.Background(), loadObjects(t)))
	assert.Len(t, c.Objects().FeatureViews, 1)

	err := c.Apply(context.Background(), Objects{FeatureViews: []FeatureView{{Name: "v", Entities: []string{"ghost"}}}})
	assert.Error(t, err)
	assert.Len(t, c.Objects().FeatureViews, 1, "a rejected apply leaves the registry untouched")
}

func staticOpener(c Client) Opener {
	return func(context.Context, string, map[string]any) (Client, error) { return c, nil }
}

func TestModuleHistoricalVariants(t *testing.T) {
	c := seededTTL(t, "")
	entityDF := map[string]any{
		"columns": []any{"driver_id", "event_timestamp"},
		"rows":    []any{[]any{1001.0, "2024-01-01T01:00:00Z"}},
	}
	inputs := map[string]any{
		"feast_repository_path": "repo",
		"entity_df":             entityDF,
		"historical_features_":  []any{"driver_hourly_stats:conv_rate"},
	}

	pointInTime, err := flows.NewDriver(nil, []nodes.Module{Module(staticOpener(c))})
	require.NoError(t, err)
	res, err := pointInTime.Execute(context.Background(), []string{"historical_features"}, inputs)
	require.NoError(t, err)
	frame := res["historical_features"].(Frame)
	assert.Equal(t, 0.1, frame.Value(0, "conv_rate"))

	batch, err := flows.NewDriver(dagflow.Config{"batch_scoring": true}, []nodes.Module{Module(staticOpener(c))}, flows.WithAsync(0))
	require.NoError(t, err)
	res, err = batch.Execute(context.Background(), []string{"historical_features"}, inputs)
	require.NoError(t, err)
	frame = res["historical_features"].(Frame)
	assert.Equal(t, 0.2, frame.Value(0, "conv_rate"), "batch scoring returns the latest value")
	assert.Equal(t, "2024-01-01T01:00:00Z", entityDF["rows"].([]any)[0].([]any)[1], "inputs are not modified")
}

func TestModuleWrites(t *testing.T) {
	dir := t.TempDir()
	repoFile := filepath.Join(dir, "repo.hcl")
	require.NoError(t, os.WriteFile(repoFile, []byte(repoHCL), 0o644))

	c := NewMemoryClient(Objects{})
	d, err := flows.NewDriver(nil, []nodes.Module{Module(staticOpener(c))})
	require.NoError(t, err)
	ctx := context.Background()
	common := map[string]any{
		"feast_repository_path": dir,
		"feast_config":          map[string]any{"ttl": "1h"},
	}
	with := func(extra map[string]any) map[string]any {
		out := make(map[string]any, len(common)+len(extra))
		for k, v := range common {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	res, err := d.Execute(ctx, []string{"apply"}, with(map[string]any{"feature_repo_file": repoFile}))
	require.NoError(t, err)
	assert.True(t, res.Bool("apply"))
	assert.Equal(t, "1h", c.Objects().FeatureViews[0].TTL)

	eventDF := map[string]any{
		"columns": []any{"driver_id", "event_timestamp", "conv_rate"},
		"rows":    []any{[]any{1001.0, "2024-01-01T00:00:00Z", 0.3}},
	}
	res, err = d.Execute(ctx, []string{"push"}, with(map[string]any{
		"push_source": "driver_stats_push_source",
		"event_df":    eventDF,
		"push_mode":   "offline",
	}))
	require.NoError(t, err)
	assert.True(t, res.Bool("push"))

	_, err = d.Execute(ctx, []string{"push"}, with(map[string]any{
		"push_source": "driver_stats_push_source",
		"event_df":    eventDF,
		"push_mode":   1.0,
	}))
	assert.ErrorIs(t, err, dagflow.ErrTypeMismatch)

	res, err = d.Execute(ctx, []string{"materialize_incremental", "online_features"}, with(map[string]any{
		"end_date":         "2024-01-01T06:00:00Z",
		"entity_rows":      []any{map[string]any{"driver_id": 1001.0}},
		"online_features_": []any{"driver_hourly_stats:conv_rate"},
	}))
	require.NoError(t, err)
	assert.True(t, res.Bool("materialize_incremental"))
}

type startRecorder struct {
	mu      sync.Mutex
	started []string
}

func (r *startRecorder) Notify(_ context.Context, ev flows.FlowEvent) {
	if ev.Type == flows.FlowEventTypeNodeStart {
		r.mu.Lock()
		r.started = append(r.started, ev.Node)
		r.mu.Unlock()
	}
}

func TestPushNotAttemptedWhenStoreFails(t *testing.T) {
	failing := func(context.Context, string, map[string]any) (Client, error) {
		return nil, errors.New("feature_store.yaml not found")
	}
	for name, opt := range map[string]flows.DriverOption{"sync": flows.WithLogger(nil), "async": flows.WithAsync(0)} {
		t.Run(name, func(t *testing.T) {
			rec := &startRecorder{}
			d, err := flows.NewDriver(nil, []nodes.Module{Module(failing)}, opt, flows.WithMonitors(rec))
			require.NoError(t, err)

			_, err = d.Execute(context.Background(), []string{"push"}, map[string]any{
				"feast_repository_path": "missing",
				"push_source":           "driver_stats_push_source",
				"event_df":              NewFrame("driver_id"),
			})
			var execErr *dagflow.NodeExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.Equal(t, "feature_store", execErr.Node)
			assert.Equal(t, []string{"feature_store"}, rec.started)
		})
	}
}

func TestDefaultOpener(t *testing.T) {
	_, err := DefaultOpener(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	c, err := DefaultOpener(context.Background(), "", map[string]any{"server_url": "http://localhost:6566"})
	require.NoError(t, err)
	assert.IsType(t, &ServerClient{}, c)
}

func TestServerClient(t *testing.T) {
	var pushed pushRequest
	var materialized materializeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/push":
			assert.NoError(t, json.Unmarshal(raw, &pushed))
		case "/materialize-incremental":
			assert.NoError(t, json.Unmarshal(raw, &materialized))
		case "/get-online-features":
			_, _ = io.WriteString(w, `{"metadata":{"feature_names":["driver_id","conv_rate"]},
				"results":[{"values":[1001,1002]},{"values":[0.1,null]}]}`)
		default:
			http.Error(w, "no such endpoint", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewServerClient(srv.URL+"/", nil)
	ctx := context.Background()

	rows := NewFrame("driver_id", "event_timestamp", "conv_rate")
	require.NoError(t, rows.AddRow(1001, base, 0.4))
	require.NoError(t, c.Push(ctx, "driver_stats_push_source", rows, PushOnlineAndOffline))
	assert.Equal(t, "driver_stats_push_source", pushed.PushSourceName)
	assert.Equal(t, PushOnlineAndOffline, pushed.To)
	assert.Equal(t, []any{"2024-01-01T00:00:00Z"}, pushed.DF["event_timestamp"])

	require.NoError(t, c.MaterializeIncremental(ctx, base))
	assert.Equal(t, "2024-01-01T00:00:00Z", materialized.EndTS)

	out, err := c.OnlineFeatures(ctx, []map[string]any{{"driver_id": 1001}, {"driver_id": 1002}}, []string{"driver_hourly_stats:conv_rate"})
	require.NoError(t, err)
	assert.Equal(t, []string{"driver_id", "conv_rate"}, out.Columns)
	assert.Equal(t, 0.1, out.Value(0, "conv_rate"))
	assert.Nil(t, out.Value(1, "conv_rate"))

	assert.ErrorIs(t, c.Apply(ctx, Objects{}), errors.ErrUnsupported)
	_, err = c.HistoricalFeatures(ctx, Frame{}, nil)
	assert.ErrorIs(t, err, errors.ErrUnsupported)

	bad := NewServerClient(srv.URL+"/missing", nil)
	assert.ErrorContains(t, bad.MaterializeIncremental(ctx, base), "404")
}

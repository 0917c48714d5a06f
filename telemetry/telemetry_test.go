package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagflow/flows"
	"dagflow/nodes"
)

func module() nodes.Module {
	ok := nodes.Func0("ok", func(context.Context) (int, error) { return 1, nil })
	bad := nodes.Func1("bad", "ok", func(context.Context, int) (int, error) { return 0, errors.New("boom") })
	return nodes.NewModule("m", ok, bad)
}

func TestMetricsMonitor(t *testing.T) {
	m := NewMetrics("dagflow")
	d, err := flows.NewDriver(nil, []nodes.Module{module()}, flows.WithMonitors(m))
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), []string{"ok"}, nil)
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), []string{"bad"}, nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("sync", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeErrors.WithLabelValues("bad")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 2, testutil.CollectAndCount(m.NodeDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "dagflow_runs_total")
}

func TestStdoutTracing(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(TracingConfig{Exporter: "stdout", Writer: &buf, ServiceName: "test"})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	exec := flows.NewSyncExecutor(flows.ExecutorOptions{Tracer: p.Tracer()})
	_, err = flows.Run(context.Background(), exec, nil, []string{"ok"}, nil, module())
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"node ok"`)
}

func TestTracingOff(t *testing.T) {
	p, err := NewProvider(TracingConfig{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))

	_, err = NewProvider(TracingConfig{Exporter: "zipkin"})
	assert.Error(t, err)
}

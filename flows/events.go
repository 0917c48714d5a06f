package flows

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
)

// FlowEventType enumerates observable lifecycle hooks emitted by executors.
type FlowEventType string

const (
	FlowEventTypeFlowStart    FlowEventType = "flow_start"
	FlowEventTypeNodeStart    FlowEventType = "node_start"
	FlowEventTypeNodeEnd      FlowEventType = "node_end"
	FlowEventTypeNodeError    FlowEventType = "node_error"
	FlowEventTypeFlowComplete FlowEventType = "flow_complete"
)

// FlowEvent carries metadata that observability hooks can use.
type FlowEvent struct {
	Type      FlowEventType
	Timestamp time.Time
	RunID     string
	Executor  string
	Node      string
	Duration  time.Duration
	Err       error

	// Outputs and Plan are set on flow_start.
	Outputs []string
	Plan    []string
}

// Monitor observes lifecycle events. Notify may be called from several
// goroutines at once by the async executor.
type Monitor interface {
	Notify(ctx context.Context, event FlowEvent)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(ctx context.Context, event FlowEvent)

func (f MonitorFunc) Notify(ctx context.Context, event FlowEvent) { f(ctx, event) }

type monitors []Monitor

func (ms monitors) emit(ctx context.Context, event FlowEvent) {
	if len(ms) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RunID == "" {
		event.RunID = RunIDFromContext(ctx)
	}
	for _, m := range ms {
		m.Notify(ctx, event)
	}
}

// LogMonitor writes every event to an hclog logger.
type LogMonitor struct {
	Logger hclog.Logger
}

func (m LogMonitor) Notify(_ context.Context, event FlowEvent) {
	logger := m.Logger
	if logger == nil {
		return
	}
	args := []any{"run_id", event.RunID, "executor", event.Executor}
	if event.Node != "" {
		args = append(args, "node", event.Node)
	}
	switch event.Type {
	case FlowEventTypeFlowStart:
		logger.Debug("execution started", append(args, "outputs", event.Outputs, "plan", event.Plan)...)
	case FlowEventTypeNodeStart:
		logger.Trace("node started", args...)
	case FlowEventTypeNodeEnd:
		logger.Debug("node finished", append(args, "duration", event.Duration)...)
	case FlowEventTypeNodeError:
		logger.Warn("node failed", append(args, "duration", event.Duration, "error", event.Err)...)
	case FlowEventTypeFlowComplete:
		if event.Err != nil {
			logger.Error("execution failed", append(args, "duration", event.Duration, "error", event.Err)...)
			return
		}
		logger.Info("execution complete", append(args, "duration", event.Duration)...)
	}
}

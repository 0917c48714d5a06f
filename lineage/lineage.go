// Package lineage keeps a record of every execution: which nodes ran, in
// which order, how long each took and how the run ended.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"dagflow/flows"
	kvstore "dagflow/kv"
)

// ErrNotFound is returned when no record exists for a run ID.
var ErrNotFound = errors.New("lineage: run not found")

// Status of a node or run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// NodeRecord describes one node execution.
type NodeRecord struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Record describes one run.
type Record struct {
	RunID    string        `json:"run_id"`
	Executor string        `json:"executor"`
	Outputs  []string      `json:"outputs"`
	Plan     []string      `json:"plan"`
	Status   Status        `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	// Nodes is ordered by completion.
	Nodes []NodeRecord `json:"nodes"`
}

// Store persists finished records.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Load(ctx context.Context, runID string) (*Record, error)
	// List returns the stored run IDs, oldest first.
	List(ctx context.Context) ([]string, error)
}

const keyPrefix = "lineage:"

// KVStore stores records as JSON documents in a key-value store.
type KVStore struct {
	store kvstore.KVStore
}

func NewKVStore(store kvstore.KVStore) *KVStore {
	return &KVStore{store: store}
}

func (s *KVStore) Save(_ context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("lineage: marshal run %s: %w", rec.RunID, err)
	}
	return s.store.Put(keyPrefix+rec.RunID, data)
}

func (s *KVStore) Load(_ context.Context, runID string) (*Record, error) {
	data, err := s.store.Get(keyPrefix + runID)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("lineage: unmarshal run %s: %w", runID, err)
	}
	return &rec, nil
}

func (s *KVStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(keyPrefix)
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(keys))
	for _, k := range keys {
		rec, err := s.Load(ctx, k[len(keyPrefix):])
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Started.Before(recs[j].Started) })
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.RunID
	}
	return ids, nil
}

// Recorder is a flows.Monitor that assembles a Record per run and saves it
// when the run completes. Runs still in flight are visible through Load.
type Recorder struct {
	store Store

	mu      sync.Mutex
	active  map[string]*Record
	started map[string]map[string]time.Time
	onError func(error)
}

// NewRecorder records into store. onError receives persistence failures; it
// may be nil.
func NewRecorder(store Store, onError func(error)) *Recorder {
	return &Recorder{
		store:   store,
		active:  make(map[string]*Record),
		started: make(map[string]map[string]time.Time),
		onError: onError,
	}
}

var _ flows.Monitor = (*Recorder)(nil)

func (r *Recorder) Notify(ctx context.Context, ev flows.FlowEvent) {
	if ev.RunID == "" {
		return
	}
	r.mu.Lock()
	switch ev.Type {
	case flows.FlowEventTypeFlowStart:
		r.active[ev.RunID] = &Record{
			RunID:    ev.RunID,
			Executor: ev.Executor,
			Outputs:  append([]string(nil), ev.Outputs...),
			Plan:     append([]string(nil), ev.Plan...),
			Status:   StatusRunning,
			Started:  ev.Timestamp,
		}
		r.started[ev.RunID] = make(map[string]time.Time)
	case flows.FlowEventTypeNodeStart:
		if s, ok := r.started[ev.RunID]; ok {
			s[ev.Node] = ev.Timestamp
		}
	case flows.FlowEventTypeNodeEnd, flows.FlowEventTypeNodeError:
		rec, ok := r.active[ev.RunID]
		if !ok {
			break
		}
		nr := NodeRecord{
			Name:     ev.Node,
			Status:   StatusSucceeded,
			Started:  r.started[ev.RunID][ev.Node],
			Duration: ev.Duration,
		}
		if ev.Err != nil {
			nr.Status = StatusFailed
			nr.Error = ev.Err.Error()
		}
		rec.Nodes = append(rec.Nodes, nr)
	case flows.FlowEventTypeFlowComplete:
		rec, ok := r.active[ev.RunID]
		if !ok {
			break
		}
		delete(r.active, ev.RunID)
		delete(r.started, ev.RunID)
		rec.Duration = ev.Duration
		rec.Status = StatusSucceeded
		if ev.Err != nil {
			rec.Status = StatusFailed
			rec.Error = ev.Err.Error()
		}
		r.mu.Unlock()
		if err := r.store.Save(ctx, rec); err != nil && r.onError != nil {
			r.onError(err)
		}
		return
	}
	r.mu.Unlock()
}

// Load returns the record of runID, in flight or stored.
func (r *Recorder) Load(ctx context.Context, runID string) (*Record, error) {
	r.mu.Lock()
	if rec, ok := r.active[runID]; ok {
		cp := *rec
		cp.Nodes = append([]NodeRecord(nil), rec.Nodes...)
		r.mu.Unlock()
		return &cp, nil
	}
	r.mu.Unlock()
	return r.store.Load(ctx, runID)
}

// List returns the stored run IDs.
func (r *Recorder) List(ctx context.Context) ([]string, error) {
	return r.store.List(ctx)
}

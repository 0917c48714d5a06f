package featurestore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Client is a handle on a feature store.
type Client interface {
	// Apply registers objects, replacing same-named definitions.
	Apply(ctx context.Context, objs Objects) error
	// MaterializeIncremental loads offline rows up to end into the online
	// store, continuing from the previous materialization.
	MaterializeIncremental(ctx context.Context, end time.Time) error
	// Push writes rows to every feature view reading from source.
	Push(ctx context.Context, source string, rows Frame, mode PushMode) error
	// HistoricalFeatures joins features onto entity point-in-time correctly.
	// entity needs the join keys and an event_timestamp column.
	HistoricalFeatures(ctx context.Context, entity Frame, features []string) (Frame, error)
	// OnlineFeatures looks up the latest value of each feature per entity.
	OnlineFeatures(ctx context.Context, entityRows []map[string]any, features []string) (Frame, error)
}

// Opener constructs the client for a repository path.
type Opener func(ctx context.Context, repoPath string, cfg map[string]any) (Client, error)

// DefaultOpener talks to a feature server when cfg carries server_url and
// otherwise serves the repository definitions from memory.
func DefaultOpener(_ context.Context, repoPath string, cfg map[string]any) (Client, error) {
	if url, _ := cfg["server_url"].(string); url != "" {
		return NewServerClient(url, nil), nil
	}
	if _, err := os.Stat(repoPath); err != nil {
		return nil, fmt.Errorf("featurestore: repository %s: %w", repoPath, err)
	}
	objs, err := LoadRepo(repoPath, cfg)
	if err != nil {
		return nil, err
	}
	return NewMemoryClient(objs), nil
}

type storedRow struct {
	key    string
	ts     time.Time
	values map[string]any
}

// MemoryClient is an in-process store with an append-only offline log and a
// latest-value online table per feature view.
type MemoryClient struct {
	mu      sync.RWMutex
	objects Objects
	offline map[string][]storedRow
	online  map[string]map[string]storedRow
	// watermark is the end of the last materialization per view.
	watermark map[string]time.Time
}

func NewMemoryClient(objs Objects) *MemoryClient {
	return &MemoryClient{
		objects:   objs,
		offline:   make(map[string][]storedRow),
		online:    make(map[string]map[string]storedRow),
		watermark: make(map[string]time.Time),
	}
}

var _ Client = (*MemoryClient)(nil)

// Objects returns the registered definitions.
func (c *MemoryClient) Objects() Objects {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.objects
}

func (c *MemoryClient) Apply(_ context.Context, objs Objects) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := c.objects.Merge(objs)
	if err := merged.Validate(); err != nil {
		return fmt.Errorf("featurestore: apply: %w", err)
	}
	c.objects = merged
	return nil
}

func (c *MemoryClient) Push(_ context.Context, source string, rows Frame, mode PushMode) error {
	if _, err := ParsePushMode(string(mode)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.objects.pushSource(source) {
		return fmt.Errorf("featurestore: unknown push source %q", source)
	}

	// Every view's rows are parsed before any is written, so a push is all
	// or nothing.
	parsed := make(map[string][]storedRow)
	var views []string
	for _, v := range c.objects.FeatureViews {
		if v.Source != source {
			continue
		}
		vr, err := c.rowsFor(v, rows)
		if err != nil {
			return err
		}
		parsed[v.Name] = vr
		views = append(views, v.Name)
	}
	for _, view := range views {
		for _, r := range parsed[view] {
			if mode.offline() {
				c.offline[view] = append(c.offline[view], r)
			}
			if mode.online() {
				c.upsertOnline(view, r)
			}
		}
	}
	return nil
}

// rowsFor extracts the rows of frame that belong to view v.
func (c *MemoryClient) rowsFor(v FeatureView, frame Frame) ([]storedRow, error) {
	keys := c.objects.joinKeys(v)
	tsCol := v.timestampField()
	for _, col := range append(append([]string(nil), keys...), tsCol) {
		if frame.Index(col) < 0 {
			return nil, fmt.Errorf("featurestore: rows for view %q lack column %q", v.Name, col)
		}
	}
	out := make([]storedRow, 0, frame.Len())
	for i := range frame.Rows {
		ts, err := toTime(frame.Value(i, tsCol))
		if err != nil {
			return nil, fmt.Errorf("featurestore: row %d: %w", i, err)
		}
		values := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			if frame.Index(f.Name) >= 0 {
				values[f.Name] = frame.Value(i, f.Name)
			}
		}
		out = append(out, storedRow{key: rowKey(frame, i, keys), ts: ts, values: values})
	}
	return out, nil
}

func (c *MemoryClient) upsertOnline(view string, r storedRow) {
	table, ok := c.online[view]
	if !ok {
		table = make(map[string]storedRow)
		c.online[view] = table
	}
	if cur, ok := table[r.key]; ok && cur.ts.After(r.ts) {
		return
	}
	table[r.key] = r
}

func (c *MemoryClient) MaterializeIncremental(_ context.Context, end time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.objects.FeatureViews {
		start := c.watermark[v.Name]
		for _, r := range c.offline[v.Name] {
			if r.ts.After(start) && !r.ts.After(end) {
				c.upsertOnline(v.Name, r)
			}
		}
		if end.After(start) {
			c.watermark[v.Name] = end
		}
	}
	return nil
}

func (c *MemoryClient) HistoricalFeatures(_ context.Context, entity Frame, features []string) (Frame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs, err := c.objects.resolveRefs(features)
	if err != nil {
		return Frame{}, err
	}
	if entity.Index(DefaultTimestampField) < 0 {
		return Frame{}, fmt.Errorf("featurestore: entity frame lacks %q column", DefaultTimestampField)
	}

	out := NewFrame(entity.Columns...)
	for _, ref := range refs {
		out.Columns = append(out.Columns, ref.feature)
	}
	for i, row := range entity.Rows {
		ts, err := toTime(entity.Value(i, DefaultTimestampField))
		if err != nil {
			return Frame{}, fmt.Errorf("featurestore: entity row %d: %w", i, err)
		}
		joined := append([]any(nil), row...)
		for _, ref := range refs {
			keys := c.objects.joinKeys(ref.view)
			for _, k := range keys {
				if entity.Index(k) < 0 {
					return Frame{}, fmt.Errorf("featurestore: entity frame lacks join key %q of view %q", k, ref.view.Name)
				}
			}
			best, ok := c.asOf(ref.view, rowKey(entity, i, keys), ts)
			if ok {
				joined = append(joined, best.values[ref.feature])
			} else {
				joined = append(joined, nil)
			}
		}
		out.Rows = append(out.Rows, joined)
	}
	return out, nil
}

// asOf finds the latest offline row for key at or before ts within the
// view's ttl.
func (c *MemoryClient) asOf(v FeatureView, key string, ts time.Time) (storedRow, bool) {
	ttl := v.ttl()
	var best storedRow
	found := false
	for _, r := range c.offline[v.Name] {
		if r.key != key || r.ts.After(ts) {
			continue
		}
		if ttl > 0 && r.ts.Before(ts.Add(-ttl)) {
			continue
		}
		if !found || !r.ts.Before(best.ts) {
			best, found = r, true
		}
	}
	return best, found
}

func (c *MemoryClient) OnlineFeatures(_ context.Context, entityRows []map[string]any, features []string) (Frame, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	refs, err := c.objects.resolveRefs(features)
	if err != nil {
		return Frame{}, err
	}

	entity := FrameFromRecords(entityRows)
	out := NewFrame(entity.Columns...)
	for _, ref := range refs {
		out.Columns = append(out.Columns, ref.feature)
	}
	for i, row := range entity.Rows {
		joined := append([]any(nil), row...)
		for _, ref := range refs {
			keys := c.objects.joinKeys(ref.view)
			stored, ok := c.online[ref.view.Name][rowKey(entity, i, keys)]
			if ok {
				joined = append(joined, stored.values[ref.feature])
			} else {
				joined = append(joined, nil)
			}
		}
		out.Rows = append(out.Rows, joined)
	}
	return out, nil
}

// rowKey identifies the entity of row i. Numbers format identically
// whether they arrived as ints or JSON floats.
func rowKey(f Frame, i int, keys []string) string {
	parts := make([]string, len(keys))
	for j, k := range keys {
		parts[j] = fmt.Sprint(f.Value(i, k))
	}
	return strings.Join(parts, "\x1f")
}

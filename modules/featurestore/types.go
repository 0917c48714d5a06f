package featurestore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PushMode selects which stores a push writes to. Only the named values
// are accepted; numeric codes are rejected.
type PushMode string

const (
	PushOnline           PushMode = "online"
	PushOffline          PushMode = "offline"
	PushOnlineAndOffline PushMode = "online_and_offline"
)

// ParsePushMode accepts the mode names in any case.
func ParsePushMode(s string) (PushMode, error) {
	switch m := PushMode(strings.ToLower(strings.TrimSpace(s))); m {
	case PushOnline, PushOffline, PushOnlineAndOffline:
		return m, nil
	}
	return "", fmt.Errorf("featurestore: unknown push mode %q (want online, offline or online_and_offline)", s)
}

func (m PushMode) String() string { return string(m) }

func (m PushMode) online() bool  { return m == PushOnline || m == PushOnlineAndOffline }
func (m PushMode) offline() bool { return m == PushOffline || m == PushOnlineAndOffline }

func (m PushMode) MarshalText() ([]byte, error) {
	if _, err := ParsePushMode(string(m)); err != nil {
		return nil, err
	}
	return []byte(m), nil
}

func (m *PushMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePushMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Frame is a column-oriented table, the unit features travel in.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewFrame returns an empty frame with the given columns.
func NewFrame(columns ...string) Frame {
	return Frame{Columns: append([]string(nil), columns...)}
}

// FrameFromRecords builds a frame from row maps. Columns are the sorted
// union of the record keys.
func FrameFromRecords(records []map[string]any) Frame {
	seen := make(map[string]struct{})
	var cols []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	f := NewFrame(cols...)
	for _, r := range records {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = r[c]
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

// AddRow appends one row; values are in column order.
func (f *Frame) AddRow(values ...any) error {
	if len(values) != len(f.Columns) {
		return fmt.Errorf("featurestore: row has %d values, frame has %d columns", len(values), len(f.Columns))
	}
	f.Rows = append(f.Rows, append([]any(nil), values...))
	return nil
}

// Index returns the position of column, or -1.
func (f Frame) Index(column string) int {
	for i, c := range f.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Value returns the cell at row for column, or nil.
func (f Frame) Value(row int, column string) any {
	i := f.Index(column)
	if i < 0 || row < 0 || row >= len(f.Rows) || i >= len(f.Rows[row]) {
		return nil
	}
	return f.Rows[row][i]
}

// Len is the number of rows.
func (f Frame) Len() int { return len(f.Rows) }

// Clone deep-copies the row slices.
func (f Frame) Clone() Frame {
	cp := Frame{Columns: append([]string(nil), f.Columns...), Rows: make([][]any, len(f.Rows))}
	for i, r := range f.Rows {
		cp.Rows[i] = append([]any(nil), r...)
	}
	return cp
}

// Records returns one map per row.
func (f Frame) Records() []map[string]any {
	out := make([]map[string]any, len(f.Rows))
	for i, r := range f.Rows {
		rec := make(map[string]any, len(f.Columns))
		for j, c := range f.Columns {
			if j < len(r) {
				rec[c] = r[j]
			}
		}
		out[i] = rec
	}
	return out
}

// columnar returns the frame as column name to values.
func (f Frame) columnar() map[string][]any {
	out := make(map[string][]any, len(f.Columns))
	for j, c := range f.Columns {
		col := make([]any, len(f.Rows))
		for i, r := range f.Rows {
			if j < len(r) {
				col[i] = r[j]
			}
		}
		out[c] = col
	}
	return out
}

// toTime accepts time.Time, RFC 3339 strings, plain dates and unix seconds.
func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("featurestore: cannot parse timestamp %q", t)
	case float64:
		return time.Unix(0, int64(t*float64(time.Second))).UTC(), nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case int:
		return time.Unix(int64(t), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("featurestore: %T is not a timestamp", v)
}

package featurestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ServerClient talks to a running feature server over HTTP. The server only
// exposes online operations; Apply and HistoricalFeatures return an error
// wrapping errors.ErrUnsupported.
type ServerClient struct {
	baseURL string
	http    *http.Client
}

// NewServerClient targets baseURL. A nil client uses a 30 second timeout.
func NewServerClient(baseURL string, client *http.Client) *ServerClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ServerClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

var _ Client = (*ServerClient)(nil)

func (c *ServerClient) Apply(context.Context, Objects) error {
	return fmt.Errorf("featurestore: apply via feature server: %w", errors.ErrUnsupported)
}

func (c *ServerClient) HistoricalFeatures(context.Context, Frame, []string) (Frame, error) {
	return Frame{}, fmt.Errorf("featurestore: historical features via feature server: %w", errors.ErrUnsupported)
}

type pushRequest struct {
	PushSourceName string           `json:"push_source_name"`
	DF             map[string][]any `json:"df"`
	To             PushMode         `json:"to"`
}

func (c *ServerClient) Push(ctx context.Context, source string, rows Frame, mode PushMode) error {
	if _, err := ParsePushMode(string(mode)); err != nil {
		return err
	}
	df := rows.columnar()
	for col, vals := range df {
		for i, v := range vals {
			if t, ok := v.(time.Time); ok {
				vals[i] = t.UTC().Format(time.RFC3339Nano)
			}
		}
		df[col] = vals
	}
	return c.post(ctx, "/push", pushRequest{PushSourceName: source, DF: df, To: mode}, nil)
}

type materializeRequest struct {
	EndTS string `json:"end_ts"`
}

func (c *ServerClient) MaterializeIncremental(ctx context.Context, end time.Time) error {
	return c.post(ctx, "/materialize-incremental", materializeRequest{EndTS: end.UTC().Format(time.RFC3339)}, nil)
}

type onlineRequest struct {
	Features []string         `json:"features"`
	Entities map[string][]any `json:"entities"`
}

type onlineResponse struct {
	Metadata struct {
		FeatureNames []string `json:"feature_names"`
	} `json:"metadata"`
	Results []struct {
		Values []any `json:"values"`
	} `json:"results"`
}

func (c *ServerClient) OnlineFeatures(ctx context.Context, entityRows []map[string]any, features []string) (Frame, error) {
	entities := make(map[string][]any)
	var keys []string
	for _, row := range entityRows {
		for k := range row {
			if _, ok := entities[k]; !ok {
				entities[k] = nil
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, row := range entityRows {
			entities[k] = append(entities[k], row[k])
		}
	}

	var resp onlineResponse
	if err := c.post(ctx, "/get-online-features", onlineRequest{Features: features, Entities: entities}, &resp); err != nil {
		return Frame{}, err
	}
	names := resp.Metadata.FeatureNames
	if len(names) != len(resp.Results) {
		return Frame{}, fmt.Errorf("featurestore: server returned %d feature names for %d result columns", len(names), len(resp.Results))
	}
	out := NewFrame(names...)
	for i := range entityRows {
		row := make([]any, len(names))
		for j, col := range resp.Results {
			if i < len(col.Values) {
				row[j] = col.Values[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func (c *ServerClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("featurestore: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("featurestore: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("featurestore: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("featurestore: read %s response: %w", path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("featurestore: POST %s: %s: %s", path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("featurestore: decode %s response: %w", path, err)
	}
	return nil
}

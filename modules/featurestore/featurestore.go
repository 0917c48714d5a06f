// Package featurestore is a node module wrapping feature store operations.
// Writes (apply, materialize_incremental, push) are side-effect nodes whose
// value is true once the write happened; they only run when requested.
package featurestore

import (
	"context"
	"fmt"
	"time"

	dagflow "dagflow"
	"dagflow/nodes"
)

// Module returns the feature store nodes. open builds the store handle;
// nil uses DefaultOpener. The historical_features group is selected by the
// batch_scoring configuration key.
func Module(open Opener) nodes.Module {
	if open == nil {
		open = DefaultOpener
	}
	return nodes.NewModule("featurestore",
		nodes.Func2("feature_store", "feast_repository_path", "feast_config",
			func(ctx context.Context, path string, cfg map[string]any) (Client, error) {
				return open(ctx, path, cfg)
			},
			nodes.Default("feast_config", map[string]any(nil)),
			nodes.Doc("Opens the feature store for a repository.")),
		nodes.Func2("feast_objects", "feature_repo_file", "feast_config",
			func(_ context.Context, file string, cfg map[string]any) (Objects, error) {
				return LoadRepo(file, cfg)
			},
			nodes.Default("feast_config", map[string]any(nil)),
			nodes.Doc("Parses feature definitions from an HCL file.")),
		nodes.Func2("apply", "feature_store", "feast_objects", apply,
			nodes.Doc("Registers definitions with the store.")),
		nodes.Func2("materialize_incremental", "feature_store", "end_date", materializeIncremental,
			nodes.Doc("Loads offline rows up to end_date into the online store.")),
		nodes.Func4("push", "feature_store", "push_source", "event_df", "push_mode", push,
			nodes.Default("push_mode", PushOnline),
			nodes.Doc("Pushes rows to every view reading from push_source.")),
		nodes.Func3("historical_features__not_batch", "feature_store", "entity_df", "historical_features_",
			historicalFeatures,
			nodes.When(dagflow.WhenNot("batch_scoring", true)),
			nodes.Doc("Point-in-time correct features for each entity row.")),
		nodes.Func4("historical_features__batch", "feature_store", "entity_df", "entity_timestamp_col", "historical_features_",
			batchHistoricalFeatures,
			nodes.When(dagflow.When("batch_scoring", true)),
			nodes.Default("entity_timestamp_col", DefaultTimestampField),
			nodes.Doc("Latest features for each entity, for batch scoring.")),
		nodes.Func3("online_features", "feature_store", "entity_rows", "online_features_", onlineFeatures,
			nodes.Doc("Latest online values for each entity row.")),
	)
}

func apply(ctx context.Context, store Client, objs Objects) (bool, error) {
	if err := store.Apply(ctx, objs); err != nil {
		return false, err
	}
	return true, nil
}

func materializeIncremental(ctx context.Context, store Client, end time.Time) (bool, error) {
	if end.IsZero() {
		return false, fmt.Errorf("featurestore: end_date is required")
	}
	if err := store.MaterializeIncremental(ctx, end); err != nil {
		return false, err
	}
	return true, nil
}

func push(ctx context.Context, store Client, source string, rows Frame, mode PushMode) (bool, error) {
	if err := store.Push(ctx, source, rows, mode); err != nil {
		return false, err
	}
	return true, nil
}

func historicalFeatures(ctx context.Context, store Client, entity Frame, features []string) (Frame, error) {
	return store.HistoricalFeatures(ctx, entity, features)
}

// batchHistoricalFeatures stamps every entity row with the current time so
// the latest value of each feature is returned. The caller's frame is not
// modified.
func batchHistoricalFeatures(ctx context.Context, store Client, entity Frame, tsCol string, features []string) (Frame, error) {
	stamped := entity.Clone()
	now := time.Now().UTC()
	i := stamped.Index(tsCol)
	if i < 0 {
		stamped.Columns = append(stamped.Columns, tsCol)
		for r := range stamped.Rows {
			stamped.Rows[r] = append(stamped.Rows[r], now)
		}
	} else {
		for r := range stamped.Rows {
			stamped.Rows[r][i] = now
		}
	}
	if tsCol != DefaultTimestampField {
		if j := stamped.Index(DefaultTimestampField); j >= 0 {
			for r := range stamped.Rows {
				stamped.Rows[r][j] = now
			}
		} else {
			stamped.Columns = append(stamped.Columns, DefaultTimestampField)
			for r := range stamped.Rows {
				stamped.Rows[r] = append(stamped.Rows[r], now)
			}
		}
	}
	return store.HistoricalFeatures(ctx, stamped, features)
}

func onlineFeatures(ctx context.Context, store Client, rows []map[string]any, features []string) (Frame, error) {
	return store.OnlineFeatures(ctx, rows, features)
}

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	dagflow "dagflow"
	"dagflow/flows"
)

type executeFlags struct {
	outputs []string
	inputs  []string
	sets    []string
	async   bool
	limit   int
}

func newExecuteCmd(c *cli) *cobra.Command {
	var f executeFlags
	cmd := &cobra.Command{
		Use:   "execute --output NAME [--input key=value]...",
		Short: "Run the nodes needed for the requested outputs and print them as JSON",
		Example: `  dagflow execute -o summarized_text -i pdf_source=@paper.txt --set file_type=txt
  dagflow execute -o online_features -i feast_repository_path=feature_repo \
    -i features='["driver_stats:conv_rate"]' -i entity_rows='[{"driver_id":1001}]'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.execute(cmd, f)
		},
	}
	cmd.Flags().StringSliceVarP(&f.outputs, "output", "o", nil, "output node to compute (repeatable)")
	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "input value as key=value; JSON values are decoded, @file reads a file")
	cmd.Flags().StringArrayVar(&f.sets, "set", nil, "driver configuration override as key=value")
	cmd.Flags().BoolVar(&f.async, "async", false, "use the concurrent executor")
	cmd.Flags().IntVar(&f.limit, "max-concurrency", 0, "bound on concurrently running nodes with --async")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (c *cli) execute(cmd *cobra.Command, f executeFlags) error {
	inputs, err := parseAssignments(f.inputs, true)
	if err != nil {
		return err
	}
	for name, v := range map[string]any{
		"feast_repository_path": c.cfg.FeatureStore.RepoPath,
		"openai_gpt_model":      c.cfg.OpenAI.Model,
	} {
		if _, ok := inputs[name]; !ok {
			inputs[name] = v
		}
	}
	sets, err := parseAssignments(f.sets, false)
	if err != nil {
		return err
	}
	cfg := dagflow.Config(c.cfg.Driver).Clone()
	if cfg == nil {
		cfg = dagflow.Config{}
	}
	for k, v := range sets {
		cfg[k] = v
	}

	opts := []flows.DriverOption{
		flows.WithLogger(c.logger),
		flows.WithMonitors(flows.LogMonitor{Logger: c.logger.Named("flows")}),
	}
	if f.async {
		opts = append(opts, flows.WithAsync(f.limit))
	}
	driver, err := flows.NewDriver(cfg, c.modules(), opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := driver.Execute(ctx, f.outputs, inputs)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// parseAssignments splits key=value pairs. Values that parse as JSON are
// decoded; anything else stays a string. With files set, @path reads the
// file and passes it as a reader.
func parseAssignments(pairs []string, files bool) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, want key=value", pair)
		}
		if files && strings.HasPrefix(raw, "@") {
			b, err := os.ReadFile(raw[1:])
			if err != nil {
				return nil, err
			}
			out[key] = bytes.NewReader(b)
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dagflow/kv"
	"dagflow/lineage"
	"dagflow/modules/summarization"
	"dagflow/server"
	"dagflow/telemetry"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the flows over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := telemetry.NewProvider(telemetry.TracingConfig{
		Exporter:   c.cfg.Tracing.Exporter,
		SampleRate: c.cfg.Tracing.SampleRate,
		Writer:     os.Stderr,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(sctx); err != nil {
			c.logger.Warn("tracing shutdown", "error", err)
		}
	}()

	store, err := c.lineageStore()
	if err != nil {
		return err
	}
	defer store.Close()
	recorder := lineage.NewRecorder(lineage.NewKVStore(store), func(err error) {
		c.logger.Warn("lineage write failed", "error", err)
	})

	srv, err := server.New(server.Options{
		Config:          c.cfg.Driver,
		Summarizer:      c.summarizer(),
		Summarization:   []summarization.ModuleOption{c.completionPolicy()},
		Opener:          c.opener(),
		Logger:          c.logger,
		Metrics:         telemetry.NewMetrics("dagflow"),
		Lineage:         recorder,
		RequestTimeout:  c.cfg.Server.RequestTimeout,
		DefaultModel:    c.cfg.OpenAI.Model,
		FeatureRepoPath: c.cfg.FeatureStore.RepoPath,
	})
	if err != nil {
		return err
	}
	return srv.Listen(ctx, c.cfg.Server.Addr)
}

func (c *cli) lineageStore() (kv.KVStore, error) {
	if c.cfg.Lineage.Path == "" {
		return kv.NewInMemoryKVStore(), nil
	}
	return kv.NewFileBasedKVStore(c.cfg.Lineage.Path)
}

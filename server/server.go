// Package server exposes the node modules over HTTP.
package server

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hashicorp/go-hclog"

	dagflow "dagflow"
	"dagflow/flows"
	"dagflow/lineage"
	"dagflow/modules/featurestore"
	"dagflow/modules/summarization"
	"dagflow/nodes"
	"dagflow/telemetry"
)

// Options configures a Server.
type Options struct {
	// Config is fed to variant selection. file_type defaults to "pdf".
	Config     dagflow.Config
	Summarizer summarization.Summarizer
	Opener     featurestore.Opener
	// Summarization configures the summarization module, e.g. its
	// completion retry policy.
	Summarization []summarization.ModuleOption
	// Modules are registered next to the built-in ones.
	Modules []nodes.Module

	Logger  hclog.Logger
	Metrics *telemetry.Metrics
	Lineage *lineage.Recorder
	// RequestTimeout bounds each execution. Zero means no limit.
	RequestTimeout time.Duration
	// DefaultModel is used when a summarize request names none.
	DefaultModel string
	// FeatureRepoPath and FeastConfig are the only feature repository and
	// store settings /execute runs with; requests cannot override them.
	FeatureRepoPath string
	FeastConfig     map[string]any
}

// Server owns one async and one sync driver over the same modules.
type Server struct {
	app     *fiber.App
	async   *flows.Driver
	sync    *flows.Driver
	logger  hclog.Logger
	lineage *lineage.Recorder
	timeout time.Duration
	model   string
	pinned  map[string]any
}

// New builds the drivers and routes. Registry and configuration errors are
// returned here, before anything listens.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	cfg := opts.Config.Clone()
	if cfg == nil {
		cfg = dagflow.Config{}
	}
	if _, ok := cfg["file_type"]; !ok {
		cfg["file_type"] = "pdf"
	}

	mods := append([]nodes.Module{
		summarization.Module(opts.Summarizer, opts.Summarization...),
		featurestore.Module(opts.Opener),
	}, opts.Modules...)

	monitors := []flows.Monitor{flows.LogMonitor{Logger: logger.Named("flows")}}
	if opts.Metrics != nil {
		monitors = append(monitors, opts.Metrics)
	}
	if opts.Lineage != nil {
		monitors = append(monitors, opts.Lineage)
	}

	async, err := flows.NewDriver(cfg, mods, flows.WithAsync(0), flows.WithLogger(logger), flows.WithMonitors(monitors...))
	if err != nil {
		return nil, err
	}
	sync, err := flows.NewDriver(cfg, mods, flows.WithLogger(logger), flows.WithMonitors(monitors...))
	if err != nil {
		return nil, err
	}

	s := &Server{
		async:   async,
		sync:    sync,
		logger:  logger,
		lineage: opts.Lineage,
		timeout: opts.RequestTimeout,
		model:   opts.DefaultModel,
		pinned:  pinnedInputs(opts),
	}
	if s.model == "" {
		s.model = summarization.DefaultModel
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "dagflow",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          s.handleError,
		BodyLimit:             32 << 20,
	})
	s.app.Use(recover.New())

	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Post("/summarize", s.summarize(s.async))
	s.app.Post("/summarize_sync", s.summarize(s.sync))
	s.app.Post("/execute", s.execute)
	s.app.Get("/graph", s.graph)
	s.app.Get("/runs", s.listRuns)
	s.app.Get("/runs/:id", s.getRun)
	if opts.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
	return s, nil
}

// App returns the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listen(addr) }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.app.ShutdownWithTimeout(10 * time.Second)
	}
}

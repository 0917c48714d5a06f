package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	dagflow "dagflow"
	"dagflow/flows"
	"dagflow/lineage"
	"dagflow/modules/summarization"
)

// SummarizeResponse is returned by the summarize endpoints.
type SummarizeResponse struct {
	Summary string `json:"summary"`
	RunID   string `json:"run_id"`
}

// ExecuteRequest asks for outputs of any registered node.
type ExecuteRequest struct {
	Outputs []string       `json:"outputs"`
	Inputs  map[string]any `json:"inputs"`
	// Async selects the concurrent executor.
	Async bool `json:"async"`
}

// ExecuteResponse carries the requested values.
type ExecuteResponse struct {
	RunID   string         `json:"run_id"`
	Results dagflow.Result `json:"results"`
}

// runContext derives the execution context of a request.
func (s *Server) runContext(c *fiber.Ctx) (context.Context, context.CancelFunc, string) {
	runID := c.Get("X-Run-ID")
	if runID == "" {
		runID = uuid.NewString()
	}
	c.Set("X-Run-ID", runID)
	ctx := flows.WithRunID(c.UserContext(), runID)
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		return ctx, cancel, runID
	}
	ctx, cancel := context.WithCancel(ctx)
	return ctx, cancel, runID
}

func (s *Server) summarize(d *flows.Driver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("pdf_file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "pdf_file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return err
		}
		defer f.Close()

		size := summarization.DefaultMaxChunkSize
		if raw := c.Query("max_chunk_size"); raw != "" {
			size, err = strconv.Atoi(raw)
			if err != nil || size <= 0 {
				return fiber.NewError(fiber.StatusBadRequest, "max_chunk_size must be a positive integer")
			}
		}
		inputs := map[string]any{
			"pdf_source":       f,
			"user_query":       c.Query("user_query", summarization.DefaultUserQuery),
			"openai_gpt_model": c.Query("openai_gpt_model", s.model),
			"max_chunk_size":   size,
		}
		if ct := c.Query("content_type"); ct != "" {
			inputs["content_type"] = ct
		}

		ctx, cancel, runID := s.runContext(c)
		defer cancel()
		res, err := d.Execute(ctx, []string{"summarized_text"}, inputs)
		if err != nil {
			return err
		}
		return c.JSON(SummarizeResponse{Summary: res.String("summarized_text"), RunID: runID})
	}
}

func (s *Server) execute(c *fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if len(req.Outputs) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "outputs must name at least one node")
	}

	if req.Inputs == nil {
		req.Inputs = make(map[string]any)
	}
	for name, v := range s.pinned {
		if _, ok := req.Inputs[name]; ok {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("input %q is set by the server", name))
		}
		req.Inputs[name] = v
	}

	d := s.sync
	if req.Async {
		d = s.async
	}
	ctx, cancel, runID := s.runContext(c)
	defer cancel()
	res, err := d.Execute(ctx, req.Outputs, req.Inputs)
	if err != nil {
		return err
	}
	return c.JSON(ExecuteResponse{RunID: runID, Results: res})
}

// pinnedInputs lists inputs naming local paths or remote endpoints. They come
// from the server's own configuration and are rejected in requests.
func pinnedInputs(opts Options) map[string]any {
	cfg := make(map[string]any, len(opts.FeastConfig))
	for k, v := range opts.FeastConfig {
		cfg[k] = v
	}
	return map[string]any{
		"feast_repository_path": opts.FeatureRepoPath,
		"feature_repo_file":     opts.FeatureRepoPath,
		"feast_config":          cfg,
	}
}

type nodeInfo struct {
	Name         string            `json:"name"`
	Module       string            `json:"module"`
	Dependencies []string          `json:"dependencies"`
	Defaults     map[string]any    `json:"defaults,omitempty"`
	Output       string            `json:"output,omitempty"`
	Variant      string            `json:"variant,omitempty"`
	Doc          string            `json:"doc,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

func (s *Server) graph(c *fiber.Ctx) error {
	reg := s.sync.Registry()
	out := make([]nodeInfo, 0, reg.Len())
	for _, n := range reg.Nodes() {
		info := nodeInfo{
			Name:         n.Name,
			Module:       reg.Module(n.Name),
			Dependencies: n.DependencyNames(),
			Variant:      n.Variant,
			Doc:          n.Doc,
			Tags:         n.Tags,
		}
		if n.Output != nil {
			info.Output = n.Output.String()
		}
		for _, d := range n.Deps {
			if d.HasDefault {
				if info.Defaults == nil {
					info.Defaults = make(map[string]any)
				}
				info.Defaults[d.Name] = d.Default
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return c.JSON(fiber.Map{"config": s.sync.Config(), "nodes": out})
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	if s.lineage == nil {
		return fiber.NewError(fiber.StatusNotFound, "lineage is disabled")
	}
	ids, err := s.lineage.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"runs": ids})
}

func (s *Server) getRun(c *fiber.Ctx) error {
	if s.lineage == nil {
		return fiber.NewError(fiber.StatusNotFound, "lineage is disabled")
	}
	rec, err := s.lineage.Load(c.UserContext(), c.Params("id"))
	if errors.Is(err, lineage.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

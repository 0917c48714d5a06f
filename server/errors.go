package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	dagflow "dagflow"
)

// statusFor maps execution errors to HTTP status codes. Bad inputs are the
// caller's fault even when they surface inside a node body.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, dagflow.ErrTypeMismatch):
		return fiber.StatusBadRequest
	case dagflow.IsResolutionError(err):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

func errorKind(err error) string {
	for _, k := range []struct {
		target error
		kind   string
	}{
		{dagflow.ErrTypeMismatch, "type_mismatch"},
		{dagflow.ErrNodeExecution, "node_execution"},
		{dagflow.ErrMissingDependency, "missing_dependency"},
		{dagflow.ErrCycle, "cycle"},
		{dagflow.ErrConfig, "config"},
		{dagflow.ErrRegistry, "registry"},
		{dagflow.ErrMissingOutput, "missing_output"},
		{context.DeadlineExceeded, "timeout"},
	} {
		if errors.Is(err, k.target) {
			return k.kind
		}
	}
	return ""
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	body := fiber.Map{"error": err.Error()}
	if kind := errorKind(err); kind != "" {
		body["kind"] = kind
	}
	var execErr *dagflow.NodeExecutionError
	if errors.As(err, &execErr) {
		body["node"] = execErr.Node
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "run_id", c.GetRespHeader("X-Run-ID"), "error", err)
	}
	return c.Status(code).JSON(body)
}

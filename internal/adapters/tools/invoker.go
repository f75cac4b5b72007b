package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/louisjham/hexstrike-ai/internal/config"
	"github.com/louisjham/hexstrike-ai/internal/core/ports"
)

// Invoker routes tool calls by catalog entry: "docker" tools run as one-shot
// containers, "http" tools and anything not in the catalog go through the
// bridge. The bridge pass-through keeps the catalog optional for
// deployments where every tool lives behind the bridge.
type Invoker struct {
	logger  *slog.Logger
	bridge  *BridgeClient
	runner  *DockerRunner
	catalog map[string]config.ToolSpec
}

var _ ports.ToolInvoker = (*Invoker)(nil)

// NewInvoker builds the router. runner may be nil when no Docker daemon is
// available; docker-runtime tools then fail at invocation with a clear error.
func NewInvoker(logger *slog.Logger, bridge *BridgeClient, runner *DockerRunner, catalog []config.ToolSpec) *Invoker {
	byName := make(map[string]config.ToolSpec, len(catalog))
	for _, spec := range catalog {
		byName[spec.Name] = spec
	}
	return &Invoker{
		logger:  logger,
		bridge:  bridge,
		runner:  runner,
		catalog: byName,
	}
}

func (i *Invoker) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	start := time.Now()
	spec, known := i.catalog[tool]

	var (
		result any
		err    error
	)
	switch {
	case known && spec.Runtime == "docker":
		if i.runner == nil {
			return nil, fmt.Errorf("tool %s: docker runtime is not available", tool)
		}
		result, err = i.runner.Run(ctx, spec.Image, spec.Command, args)
	default:
		result, err = i.bridge.Call(ctx, tool, args)
	}

	if err != nil {
		i.logger.Warn("tool invocation failed",
			"tool", tool, "duration", time.Since(start).String(), "error", err)
		return nil, err
	}
	i.logger.Debug("tool invocation completed",
		"tool", tool, "duration", time.Since(start).String())
	return result, nil
}

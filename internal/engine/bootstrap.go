package engine

import (
	"context"
	"errors"
	"fmt"

	"urltable/internal/pipeline"
	"urltable/internal/telemetry"
	"urltable/internal/transport"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.PipelineYml == "" {
		return nil, errors.New("pipeline: manifest path is required")
	}

	// 1. pipeline runner
	runner, err := pipeline.Compile(cfg.PipelineYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. health server
	srv, err := transport.StartServer(cfg.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 3. metrics
	var metrics *telemetry.Server
	if cfg.MetricsPort > 0 {
		metrics = telemetry.Expose(cfg.MetricsPort)
	}

	return &Engine{
		transport: srv,
		metrics:   metrics,
		runner:    runner,
	}, nil
}

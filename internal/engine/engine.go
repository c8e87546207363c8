package engine

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"

	"urltable/internal/logging"
	"urltable/internal/pipeline"
	"urltable/internal/telemetry"
	"urltable/internal/transport"
)

type Config struct {
	GRPCPort    int    // health endpoint, 0 picks a free port
	MetricsPort int    // 0 disables /metrics
	PipelineYml string // copy job manifest
}

type Engine struct {
	transport *transport.Server
	metrics   *telemetry.Server
	runner    *pipeline.Runner
}

func (e *Engine) HealthPort() int { return e.transport.Port() }

// Run executes the copy job once. Health reports SERVING while it runs.
func (e *Engine) Run(ctx context.Context) (pipeline.Stats, error) {
	go func() {
		if err := e.transport.Serve(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logging.L().Error("health server stopped", "err", err)
		}
	}()
	defer e.shutdown()

	e.transport.SetServing(true)
	st, err := e.runner.Run(ctx)
	e.transport.SetServing(false)
	return st, err
}

func (e *Engine) shutdown() {
	e.transport.Stop()
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.metrics.Shutdown(ctx)
	}
}

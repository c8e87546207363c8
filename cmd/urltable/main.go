package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"urltable/internal/engine"
	"urltable/internal/logging"
)

func main() {
	cfg := engine.Config{}
	flag.StringVar(&cfg.PipelineYml, "pipeline", "pipeline.yml", "copy job manifest")
	flag.IntVar(&cfg.GRPCPort, "health-port", 7070, "gRPC health port, 0 for any")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", 9100, "prometheus port, 0 disables")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("dotenv: %v", err)
	}
	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	st, err := e.Run(ctx)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	logging.L().Info("done", "batches", st.Batches, "rows", st.Rows, "took", st.Duration)
}

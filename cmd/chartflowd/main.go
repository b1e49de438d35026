package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"chartflow/internal/config"
	"chartflow/internal/daemon"
	"chartflow/internal/docstore"
	"chartflow/internal/httpapi"
	"chartflow/internal/logging"
	"chartflow/internal/pipeline"
	"chartflow/internal/stage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("CHARTFLOW_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := docstore.Open(cfg)
	if err != nil {
		logger.Error("open document store", logging.Error(err))
		os.Exit(1)
	}

	worker, err := stage.Builtin(cfg.Stage, cfg)
	if err != nil {
		logger.Error("select stage worker", logging.Error(err))
		os.Exit(1)
	}

	coord := pipeline.New(cfg, store, nil, worker, logger)
	server := httpapi.New(cfg, store, coord, logger)

	d, err := daemon.New(cfg, store, coord, server, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("chartflowd shutting down")
}

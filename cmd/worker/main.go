package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/config"
	"github.com/altify/altify/internal/inference"
	"github.com/altify/altify/internal/obs"
	"github.com/altify/altify/internal/store"
	"github.com/altify/altify/internal/worker"
)

const queueMain = "tasks.main"

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	logger := obs.NewLogger("altify-worker", cfg.Environment, cfg.LogFormat)

	shutdownTracing, err := obs.InitTracing("altify-worker", cfg.Environment, cfg.OTelExporter, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rs, err := store.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect relational store: %v", err)
	}

	bs, err := blob.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("connect blob store: %v", err)
	}

	bk := broker.NewAsynqBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer bk.Close()

	router, err := inference.LoadRouterFromPath(cfg.InferencerRoutingFile)
	if err != nil {
		log.Fatalf("load model routing file: %v", err)
	}
	decision := router.Route(inference.RouteInput{})
	logger.Info().Str("backend", decision.Backend).Str("model", decision.Model).Str("rule", decision.Rule).Msg("worker: resolved inference backend")

	inf := inference.NewHTTPInferencer(cfg.InferencerEndpoint, decision.Model, os.Getenv("ALTIFY_INFERENCER_API_KEY"), cfg.InferTimeout)
	w := worker.New(rs, bs, inf, logger)

	logger.Info().Str("queue", queueMain).Msg("altify-worker starting")
	if err := w.Run(ctx, bk, queueMain); err != nil {
		log.Fatalf("worker stopped with error: %v", err)
	}
}

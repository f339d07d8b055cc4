package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/config"
	"github.com/altify/altify/internal/dlq"
	"github.com/altify/altify/internal/obs"
	"github.com/altify/altify/internal/store"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	logger := obs.NewLogger("altify-dlqconsumer", cfg.Environment, cfg.LogFormat)

	shutdownTracing, err := obs.InitTracing("altify-dlqconsumer", cfg.Environment, cfg.OTelExporter, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	rs, err := store.NewPostgresStore(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect relational store: %v", err)
	}

	bk := broker.NewAsynqBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer bk.Close()

	baseBackoff := 2 * time.Second
	maxBackoff := 5 * time.Minute
	consumer := dlq.New(bk, rs, cfg.MaxAttempts, baseBackoff, maxBackoff, logger)

	logger.Info().Int("max_attempts", cfg.MaxAttempts).Msg("altify-dlqconsumer starting")
	if err := consumer.Run(ctx, 5*time.Second); err != nil {
		log.Fatalf("dlq consumer stopped with error: %v", err)
	}
}

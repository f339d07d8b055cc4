package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/altify/altify/internal/autoscale"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/config"
	"github.com/altify/altify/internal/obs"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	logger := obs.NewLogger("altify-autoscaler", cfg.Environment, cfg.LogFormat)

	shutdownTracing, err := obs.InitTracing("altify-autoscaler", cfg.Environment, cfg.OTelExporter, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	bk := broker.NewAsynqBroker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer bk.Close()

	cooldown := time.Duration(cfg.CooldownSec) * time.Second
	a := autoscale.New(bk, cfg.MinWorkers, cfg.MaxWorkers, cfg.ScaleTarget, cooldown, cfg.OrchestratorCmd, logger)

	logger.Info().Int("min_workers", cfg.MinWorkers).Int("max_workers", cfg.MaxWorkers).Dur("cooldown", cooldown).Msg("altify-autoscaler starting")
	if err := a.Run(ctx, cfg.ScalePollInterval); err != nil {
		log.Fatalf("autoscaler stopped with error: %v", err)
	}
}

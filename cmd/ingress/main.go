package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/altify/altify/internal/adminsafety"
	"github.com/altify/altify/internal/auth"
	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/config"
	"github.com/altify/altify/internal/ingress"
	"github.com/altify/altify/internal/obs"
	"github.com/altify/altify/internal/ratelimit"
	"github.com/altify/altify/internal/store"
	"github.com/altify/altify/internal/validate"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	logger := obs.NewLogger("altify-ingress", cfg.Environment, cfg.LogFormat)

	shutdownTracing, err := obs.InitTracing("altify-ingress", cfg.Environment, cfg.OTelExporter, cfg.OTelEndpoint)
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

	valid, err := validate.LoadFromPath(cfg.ValidationFile)
	if err != nil {
		log.Fatalf("load validation rules: %v", err)
	}

	limiter := ratelimit.NewRedisSubmitLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer limiter.Close()

	srv := ingress.NewServer(
		rs, bs, bk,
		valid,
		auth.NewFromEnv(),
		limiter,
		adminsafety.NewFromEnv(),
		logger,
		cfg.ReconcileInterval, cfg.ReconcileGrace,
		cfg.GCWindow,
	)

	logger.Info().Str("addr", cfg.HTTPAddr).Msg("altify-ingress starting")
	if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
		log.Fatalf("ingress server stopped with error: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/api"
	"github.com/acme/pharmacy-outreach/internal/app"
	"github.com/acme/pharmacy-outreach/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "api")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	handlerSet, err := container.HandlerSet()
	if err != nil {
		log.Fatalf("failed to build handlers: %v", err)
	}

	server := api.NewServer(container.Config.HTTP, handlerSet)
	container.Logger.Info("starting api server",
		zap.Int("port", container.Config.HTTP.Port),
		zap.String("env", container.Config.App.Env),
		zap.String("call_bridge", container.Config.CallBridge.ProviderName),
	)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server terminated: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

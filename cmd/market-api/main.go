package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/farmlink/market-api/cmd/market-api/app"
	"github.com/farmlink/market-api/configs"
	"github.com/farmlink/market-api/internal/logging"
)

func main() {
	env := os.Getenv("APP_ENV") // dev | staging | prod
	if env == "" {
		env = "dev"
	}

	cfg, err := configs.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.Init(logging.Options{
		Component: cfg.App.Name,
		FilePath:  cfg.App.LogFile,
		Level:     cfg.App.LogLevel,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := app.InitWithConfig(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	logger.Info("market-api listening", "env", cfg.App.Env, "addr", cfg.App.HTTPAddr)
	if err := a.Run(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		cleanup()
		os.Exit(1)
	}
	logger.Info("market-api stopped")
}

// Server-only binary: configuration comes entirely from FLUORITE_* variables
// and an optional .env file.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fluorite-memory/internal/api"
	"fluorite-memory/internal/engine"
	"fluorite-memory/internal/platform/config"
	"fluorite-memory/internal/platform/logger"
)

func main() {
	envFile := flag.String("env", ".env", "environment file path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	eng, err := engine.New(ctx, engine.ConfigFrom(cfg), engine.WithLogger(log))
	if err != nil {
		log.Error("failed to open engine", "data", cfg.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Error("engine close error", "err", err)
		}
	}()

	log.Info("fluorite-memory listening", "addr", cfg.Server.Addr, "data", cfg.Storage.Path)
	if err := api.NewServer(eng, log).Start(ctx, cfg.Server.Addr); err != nil {
		log.Error("server failed", "err", err)
	}
}

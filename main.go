package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tosgen/tosgen/pkg/config"
	"github.com/tosgen/tosgen/pkg/utils"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		utils.GetLogger().Warn("Failed to read .env", "error", err)
	}

	logger := utils.InitLogger()

	if path, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	} else {
		logger.Debug("Using config file", "path", path)
	}

	cfg, path, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger = utils.InitLogger(utils.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("Config loaded", "path", path, "models", len(cfg.Models()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := NewDeps(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	if deps.Bus != nil {
		go func() {
			if err := deps.Bus.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Cancel bus stopped", "error", err)
			}
		}()
	}

	server := NewServer(cfg, deps)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	server.Wait()
	logger.Info("Server stopped")
}

// Command catalogd serves the catalog HTTP API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacentio/catalog/internal/app"
	"github.com/jacentio/catalog/internal/config"
	"github.com/jacentio/catalog/internal/logging"
)

func main() {
	configPath := flag.String("config", "catalog.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logging.Setup(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Setup(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := app.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
	logger.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("store", cfg.Store.Driver).
		Msg("catalog started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	if err := server.Stop(cfg.HTTP.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete")
		os.Exit(1)
	}
	logger.Info().Msg("catalog stopped")
}

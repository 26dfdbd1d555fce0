// Package app wires the catalog components from configuration. Both the
// long-running server and the Lambda entry point build on it.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/api"
	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/internal/config"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/store/memstore"
)

// OpenStore builds the store selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Warn().Msg("using in-memory store; data is lost on exit")
		return memstore.New(memstore.WithMaxOps(cfg.Batch.MaxOps)), nil

	case config.DriverDynamoDB:
		client, err := store.NewClient(ctx, cfg.ClientOptions())
		if err != nil {
			return nil, err
		}
		sc := cfg.DynamoConfig()
		if cfg.Store.CreateTable {
			if err := store.EnsureTable(ctx, client, sc); err != nil {
				return nil, fmt.Errorf("ensure table: %w", err)
			}
		}
		logger.Info().
			Str("table", sc.Table).
			Str("region", cfg.Store.Region).
			Str("endpoint", cfg.Store.Endpoint).
			Msg("using dynamodb store")
		return store.NewDynamo(client, sc), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// NewServer builds the HTTP server with all of its dependencies.
func NewServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*api.Server, error) {
	s, err := OpenStore(ctx, cfg, logger.With().Str("component", "store").Logger())
	if err != nil {
		return nil, err
	}
	svc := catalog.New(s, cfg.Catalog(), logger)
	return api.NewServer(svc, cfg.HTTP.Addr, logger.With().Str("component", "api").Logger()), nil
}

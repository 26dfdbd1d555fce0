// Command catalog-lambda serves the catalog API from AWS Lambda.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/catalog/internal/app"
	"github.com/jacentio/catalog/internal/config"
	"github.com/jacentio/catalog/internal/logging"
	"github.com/jacentio/catalog/lambdafn"
)

func main() {
	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		fallback := logging.Setup(logging.DefaultConfig())
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Setup(cfg.Log)

	server, err := app.NewServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	h := lambdafn.NewHandler(server.Handler(), logger.With().Str("component", "lambda").Logger())
	lambda.Start(h.Handle)
}

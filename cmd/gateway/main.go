package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/gateway"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/mlclient"
	"github.com/Brownie44l1/hazard-services/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.SetLogger(logging.With().Str("service", "gateway").Logger())

	classifier := mlclient.New(cfg.Gateway)
	gw := gateway.New(cfg, classifier)

	srv := &http.Server{
		Addr:              cfg.GatewayAddr(),
		Handler:           gw.Router(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree("gateway", logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPServerService("gateway-http", srv, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", srv.Addr).
		Str("classifier", classifier.BaseURL()).
		Bool("debug", cfg.Server.Debug).
		Msg("gateway listening")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("gateway stopped")
}

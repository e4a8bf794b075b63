package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/hazard-services/internal/api"
	"github.com/Brownie44l1/hazard-services/internal/config"
	"github.com/Brownie44l1/hazard-services/internal/handlers"
	"github.com/Brownie44l1/hazard-services/internal/logging"
	"github.com/Brownie44l1/hazard-services/internal/model"
	"github.com/Brownie44l1/hazard-services/internal/scratch"
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
	logging.SetLogger(logging.With().Str("service", "classifier").Logger())

	logging.Info().Str("model", cfg.Classifier.ModelPath).Msg("loading model")
	modelServer, err := model.NewServer(cfg.Classifier.ModelPath, model.Options{
		MetadataPath:  cfg.Classifier.MetadataPath,
		LibraryPath:   cfg.Classifier.ORTLibraryPath,
		MaxConcurrent: cfg.Classifier.MaxConcurrentInference,
		Timeout:       cfg.Classifier.InferenceTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize model server")
	}
	defer modelServer.Close()

	meta := modelServer.Metadata()
	logging.Info().
		Strs("classes", meta.Classes).
		Int("image_size", meta.ImageSize).
		Int64("max_concurrent", cfg.Classifier.MaxConcurrentInference).
		Msg("model loaded")

	errs := api.NewErrorHandler(cfg.Server.Debug)
	router := handlers.NewRouter(
		handlers.NewHandler(modelServer, cfg.Classifier),
		api.NewMiddleware("classifier", cfg.Security),
		errs,
	)

	srv := &http.Server{
		Addr:              cfg.ClassifierAddr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	tree := supervisor.NewTree("classifier", logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddAPIService(supervisor.NewHTTPServerService("classifier-http", srv, cfg.Server.ShutdownTimeout))
	tree.AddWorker(scratch.NewSweeper(cfg.Classifier.ScratchDir, cfg.Classifier.SweepInterval, cfg.Classifier.SweepMaxAge))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", srv.Addr).Msg("classifier listening")
	logging.Info().Msgf(`upload test: curl -X POST -F "file=@site.jpg" http://%s/predict/`, srv.Addr)

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("classifier stopped")
}

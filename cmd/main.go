// main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"nexuspark/internal/api"
	"nexuspark/internal/catalog"
	"nexuspark/internal/config"
	"nexuspark/internal/database"
	"nexuspark/internal/logging"
	"nexuspark/internal/observability"
	"nexuspark/internal/repositories"
	"nexuspark/internal/services"
)

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := run(cfg, logger); err != nil {
		logger.Error(context.Background(), "server exited with error", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		source catalog.Source = catalog.DefaultSource{}
		store  services.ConnectionStore
	)
	switch cfg.CatalogSource {
	case config.SourceFile:
		source = catalog.FileSource{Path: cfg.CatalogPath}
	case config.SourceNeo4j:
		db, err := database.NewNeo4jDatabase(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
		if err != nil {
			return err
		}
		defer db.Close(context.Background())

		if cfg.Neo4jSeedFile != "" {
			if err := db.ExecuteCypherFile(ctx, cfg.Neo4jSeedFile); err != nil {
				logger.Warn(ctx, "could not seed database", logging.String("file", cfg.Neo4jSeedFile), logging.Err(err))
			} else {
				logger.Info(ctx, "seed data loaded", logging.String("file", cfg.Neo4jSeedFile))
			}
		}
		source = repositories.NewCatalogSource(db.Driver)
		store = repositories.NewZoneRepository(db.Driver)
	}

	cat, err := source.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading %s catalog: %w", cfg.CatalogSource, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewCollector(reg)
	if err != nil {
		return err
	}

	svc := services.NewParkingService(
		services.WithLogger(logger),
		services.WithMetricsRecorder(metrics),
		services.WithConnectionStore(store),
		services.WithUndoDepth(cfg.UndoDepth),
	)
	if err := svc.LoadCatalog(ctx, cat); err != nil {
		return fmt.Errorf("applying catalog: %w", err)
	}

	router := api.NewRouter(svc,
		api.WithLogger(logger),
		api.WithCollector(metrics),
		api.WithAllowedOrigins(cfg.CORSAllowedOrigins...),
	)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "server starting",
			logging.String("addr", server.Addr),
			logging.String("catalog", cfg.CatalogSource),
			logging.Int("undo_depth", cfg.UndoDepth))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info(context.Background(), "server exiting")
	return nil
}

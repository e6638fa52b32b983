package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/joe-bera/pi-demand-letter-cc-sub001/internal/adapters/http"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/bootstrap"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/config"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/observability/logging"
	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/observability/metrics"
)

const service = "api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(service)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Service:    service,
		Logger:     logger,
		Registerer: httpMetrics.Registry(),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// The memory store is not shared across processes, so the API consumes
	// its own upload events.
	if cfg.StoreBackend == config.StoreMemory {
		go func() {
			if err := app.RunWorker(ctx, nil); err != nil {
				logger.Error("inline_worker_failed", "error", err)
			}
		}()
	}

	router := httpadapter.NewRouter(cfg, app.Intake, app.Intake, app.Status, app.Generator, app.CaseStatus).
		WithUploadObserver(httpMetrics).
		Handler()

	mux := http.NewServeMux()
	mux.Handle("/metrics", httpMetrics.Handler())
	mux.Handle("/", httpMetrics.Middleware(router))

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "store_backend", cfg.StoreBackend, "storage_backend", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/corpus-retrieval/internal/bootstrap"
	"github.com/kirillkom/corpus-retrieval/internal/config"
	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/observability/logging"
	"github.com/kirillkom/corpus-retrieval/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, workerMetrics.Retrieval(), logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	bus, err := bootstrap.NewBus(cfg, logger)
	if err != nil {
		logger.Error("bus_connect_failed", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_serving", "subject", cfg.NATSSubject)
	err = bus.ServeRetrieval(ctx, func(handlerCtx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
		workerMetrics.StartRequest()
		started := time.Now()
		result, err := app.Retriever.Retrieve(handlerCtx, req)
		workerMetrics.FinishRequest(serviceName, time.Since(started), err)
		return result, err
	})
	if err != nil {
		logger.Error("worker_serve_failed", "error", err)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/corpus-retrieval/internal/adapters/mcp"
	"github.com/kirillkom/corpus-retrieval/internal/bootstrap"
	"github.com/kirillkom/corpus-retrieval/internal/config"
	"github.com/kirillkom/corpus-retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout carries the MCP stream.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.Retriever, app.Classifier, logger)
	if err := server.Serve(); err != nil {
		logger.Error("mcp_serve_failed", "error", err)
	}
}

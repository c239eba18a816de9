package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/corpus-retrieval/internal/adapters/cli"
	"github.com/kirillkom/corpus-retrieval/internal/bootstrap"
	"github.com/kirillkom/corpus-retrieval/internal/config"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
	"github.com/kirillkom/corpus-retrieval/internal/core/usecase"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/corpus-retrieval/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "ragctl", cfg.LogLevel)
	slog.SetDefault(logger)
	env := &environment{cfg: cfg, logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(env)
	root.SetOut(os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

type environment struct {
	cfg    config.Config
	logger *slog.Logger
}

func (e *environment) Classifier() (ports.QueryClassifier, error) {
	rules, err := config.LoadRules(e.cfg.RAGRulesPath)
	if err != nil {
		return nil, err
	}
	classifier, err := usecase.NewClassifier(rules.Classifier, rules.Categories)
	if err != nil {
		return nil, err
	}
	return classifier, nil
}

func (e *environment) Retriever(ctx context.Context, viaBus bool) (ports.Retriever, func(), error) {
	if viaBus {
		bus, err := bootstrap.NewBus(e.cfg, e.logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, bus.Close, nil
	}
	app, err := bootstrap.New(ctx, e.cfg, nil, e.logger)
	if err != nil {
		return nil, nil, err
	}
	return app.Retriever, app.Close, nil
}

func (e *environment) SyncTarget(ctx context.Context) (cli.EmbeddedSource, cli.IndexSink, func(), error) {
	app, err := bootstrap.New(ctx, e.cfg, nil, e.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	index := app.QdrantIndex
	if index == nil {
		index = qdrant.New(e.cfg.QdrantURL, e.cfg.QdrantCollection)
	}
	return app.Chunks, index, app.Close, nil
}

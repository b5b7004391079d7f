// Package main is the recall server entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smancode/recall/internal/config"
	"github.com/smancode/recall/internal/embedder"
	"github.com/smancode/recall/internal/index"
	"github.com/smancode/recall/internal/pipeline"
	"github.com/smancode/recall/internal/reranker"
	"github.com/smancode/recall/internal/server"
	"github.com/smancode/recall/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("recall version %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	st, err := store.Open(store.Config{
		DataDir: cfg.Storage.DataDir,
		Index: index.Config{
			Dimension:         cfg.Embedding.Dimension,
			M:                 cfg.Search.M,
			EfConstruction:    cfg.Search.EfConstruction,
			EfSearch:          cfg.Search.EfSearch,
			RerankerThreshold: cfg.Search.RerankerThreshold,
		},
		HotCacheSize: cfg.Storage.HotCacheSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store failed", zap.Error(err))
		}
	}()

	emb, err := embedder.New(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.EmbeddingTimeout(),
		CacheSize: cfg.Embedding.CacheSize,
	})
	if err != nil {
		return err
	}
	defer func() { _ = emb.Close() }()

	var rr *reranker.Client
	if cfg.RerankerEnabled() {
		rr, err = reranker.New(reranker.Config{
			Endpoints: cfg.Reranker.Endpoints,
			Model:     cfg.Reranker.Model,
			APIKey:    cfg.Reranker.APIKey,
			Timeout:   cfg.RerankerTimeout(),
			MaxRounds: cfg.Reranker.MaxRounds,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rr.Close() }()
		logger.Info("reranking enabled",
			zap.Int("endpoints", len(cfg.Reranker.Endpoints)),
			zap.Int("maxRounds", cfg.Reranker.MaxRounds))
	} else {
		logger.Info("reranking disabled, no endpoints configured")
	}

	searcher := pipeline.NewSearcher(st, emb, rr, cfg.Search.RerankerThreshold, logger)
	ingester := pipeline.NewIngester(st, emb, logger)
	srv := server.NewServer(searcher, ingester, st, emb, rr, &cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

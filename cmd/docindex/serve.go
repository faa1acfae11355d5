package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/docindex-mcp/internal/config"
	"github.com/dshills/docindex-mcp/internal/embedder"
	"github.com/dshills/docindex-mcp/internal/indexer"
	"github.com/dshills/docindex-mcp/internal/mcp"
	"github.com/dshills/docindex-mcp/internal/orchestrator"
	"github.com/dshills/docindex-mcp/internal/recovery"
	"github.com/dshills/docindex-mcp/internal/resource"
	"github.com/dshills/docindex-mcp/internal/searcher"
	"github.com/dshills/docindex-mcp/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the indexer and serve MCP tools on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg := cfgStore.Config()
	logger.Info().
		Str("version", version).
		Str("build_mode", storage.BuildMode).
		Str("driver", storage.DriverName).
		Bool("vector_extension", storage.VectorExtensionAvailable).
		Str("config", cfgStore.Path()).
		Msg("docindex starting")

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	monitor := resource.NewMonitor(logger, resource.NewRuntimeSampler().Sample)
	manager := resource.NewManager(resource.ConfigFrom(cfg.Resources), monitor, logger)
	coord := recovery.NewCoordinator(store, logger)
	worker := indexer.NewWorker(store, emb, coord, manager.Gate(), indexer.ConfigFrom(cfg.Indexing), logger)

	orch := orchestrator.New(cfgStore, store, manager, worker, coord, orchestrator.OptionsFrom(cfg), logger)
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Indexing.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown did not complete cleanly")
		}
	}()

	srch := searcher.NewSearcher(store, emb, orch, logger)
	updates, unsubscribe, err := orch.Subscribe("")
	if err != nil {
		return err
	}
	defer unsubscribe()
	go srch.Watch(ctx, updates)

	server := mcp.NewServer(orch, srch, version, logger)
	err = server.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("Received shutdown signal")
		return nil
	}
	return err
}

// openStore opens the index database, creating its directory
func openStore(cfg config.Config) (*storage.SQLiteStorage, error) {
	path, err := cfg.ResolvedDBPath()
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/chatpilot/pkg/agent"
	"github.com/dotsetgreg/chatpilot/pkg/cache"
	"github.com/dotsetgreg/chatpilot/pkg/config"
	"github.com/dotsetgreg/chatpilot/pkg/providers"
	"github.com/dotsetgreg/chatpilot/pkg/server"
	"github.com/dotsetgreg/chatpilot/pkg/store"
	"github.com/dotsetgreg/chatpilot/pkg/tools"
)

const cacheSweepInterval = time.Hour

func runServe(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel()),
	})))
	slog.Info("starting chatpilot", "version", formatVersion(), "provider", cfg.Providers.Default)

	dataDir := cfg.DataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	cacheManager, err := cache.New(
		filepath.Join(dataDir, "cache.db"),
		time.Duration(cfg.Context.CacheTTLSeconds)*time.Second,
	)
	if err != nil {
		return err
	}
	defer cacheManager.Close()

	documents, err := store.NewSQLiteStore(filepath.Join(dataDir, "store.db"))
	if err != nil {
		return err
	}
	defer documents.Close()

	webTool := buildWebSearchTool(cfg)
	invoker := tools.NewInvoker(webTool)

	gateway := providers.NewGateway(
		cfg.Providers.Default,
		invoker,
		webTool.Schema(),
		providers.NewOpenAIBackend(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, cfg.Providers.OpenAI.Model),
		providers.NewGeminiBackend(cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.APIBase, cfg.Providers.Gemini.Model),
	)

	orchestrator := agent.NewOrchestrator(
		cacheManager, documents, gateway,
		cfg.Providers.Default,
		cfg.Context.MaxMessages, cfg.Context.Overlap,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: server.NewHandler(orchestrator),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// The cache deletes expired entries lazily on read; this sweep
	// reclaims entries for users who never come back.
	g.Go(func() error {
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				count, err := cacheManager.CleanupExpired()
				if err != nil {
					slog.Error("cache cleanup failed", "error", err)
					continue
				}
				slog.Info("cache cleanup completed", "entries_removed", count)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildWebSearchTool picks the configured search collaborator, Brave
// taking priority. With neither enabled the tool still exists and
// reports the search service as unavailable.
func buildWebSearchTool(cfg *config.Config) *tools.WebSearchTool {
	web := cfg.Tools.Web
	if web.Brave.Enabled && web.Brave.APIKey != "" {
		return tools.NewWebSearchTool(tools.NewBraveSearchProvider(web.Brave.APIKey), web.Brave.MaxResults)
	}
	if web.DuckDuckGo.Enabled {
		return tools.NewWebSearchTool(tools.NewDuckDuckGoSearchProvider(), web.DuckDuckGo.MaxResults)
	}
	return tools.NewWebSearchTool(nil, 0)
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/listcrawl/api"
	"github.com/use-agent/listcrawl/cache"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/webhook"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Long:  "Serve the crawl API. Configuration is read from LISTCRAWL_* environment variables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// ── 2. Initialise structured logging ────────────────────────────
	logger := initLogger(cfg.Log, os.Stdout)
	logger.Info("listcrawl starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"site", cfg.Crawl.BaseURL,
		"tls_profile", cfg.Fetch.TLSProfile,
	)

	// ── 3. Detail cache and crawl manager ───────────────────────────
	details := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer details.Close()

	manager, err := crawler.NewManager(cfg, details, logger)
	if err != nil {
		return err
	}

	notifier := webhook.New(cfg.Webhook, logger)

	// ── 4. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(manager, notifier, cfg, time.Now())

	// ── 5. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		manager.Close()
		return fmt.Errorf("HTTP server: %w", err)
	}

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP server forced shutdown", "error", err)
	} else {
		logger.Info("HTTP server drained gracefully")
	}

	// ── 7. Stop crawls and flush webhooks ───────────────────────────
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer drainCancel()

	if err := manager.Shutdown(drainCtx); err != nil {
		logger.Warn("crawls still running at exit", "active", manager.Active(), "error", err)
	}
	if err := notifier.Wait(drainCtx); err != nil {
		logger.Warn("webhooks still pending at exit", "error", err)
	}

	logger.Info("listcrawl stopped", "crawls", manager.Total())
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trackdocs/foldersync/internal/config"
	"github.com/trackdocs/foldersync/internal/engine"
	"github.com/trackdocs/foldersync/internal/httpapi"
	"github.com/trackdocs/foldersync/internal/tracker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver and sync API",
	Long: `Serves the HTTP API: a webhook endpoint for tracking-service change
notifications, a manual per-item sync trigger, and a health probe.
When FOLDERSYNC_SCAN_INTERVAL is set, a reconciliation pass also runs
on that interval. Changes to the overrides file are picked up without
a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		logger := newLogger(cfg)
		orch, cursors, err := buildOrchestrator(cfg, logger)
		if err != nil {
			return err
		}
		defer cursors.Close()

		stopWatch, err := config.WatchOverrides(cfg.OverridesFile, logger, orch.SetOverrides)
		if err != nil {
			return err
		}
		defer stopWatch()

		api, err := httpapi.NewServer(orch, httpapi.ServerConfig{
			WebhookSecret: cfg.WebhookSecret,
			MaxBodyBytes:  cfg.MaxBodyBytes,
		}, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.ScanInterval > 0 {
			go runScheduledPasses(ctx, cfg, orch, logger)
		}

		server := &http.Server{Addr: cfg.Addr, Handler: api}
		errc := make(chan error, 1)
		go func() {
			logger.Printf("foldersync listening on %s", cfg.Addr)
			errc <- server.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func runScheduledPasses(ctx context.Context, cfg config.Config, orch *engine.Orchestrator, logger *log.Logger) {
	scope := tracker.Scope{AreaPath: cfg.AreaPath, WorkItemType: cfg.WorkItemType}
	ticker := time.NewTicker(cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := orch.RunPass(ctx, scope, false)
			if err != nil {
				logger.Printf("scheduled pass failed: %v", err)
				continue
			}
			succeeded, partial, failed := report.Counts()
			logger.Printf("scheduled pass %s: %d processed, %d succeeded, %d partial, %d failed",
				report.PassID, len(report.Results), succeeded, partial, failed)
		}
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trackdocs/foldersync/internal/config"
	"github.com/trackdocs/foldersync/internal/engine"
	"github.com/trackdocs/foldersync/internal/tracker"
)

var scanFull bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one reconciliation pass over the configured scope",
	Long: `Runs a single pass: incremental since the stored cursor, or the whole
scope with --full or when no cursor exists yet. The process exits
non-zero on a scan failure, and on per-entity failures only when
FOLDERSYNC_FAIL_ON_ENTITY_ERROR is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		logger := newLogger(cfg)
		orch, cursors, err := buildOrchestrator(cfg, logger)
		if err != nil {
			return err
		}
		defer cursors.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		scope := tracker.Scope{AreaPath: cfg.AreaPath, WorkItemType: cfg.WorkItemType}
		report, err := orch.RunPass(ctx, scope, scanFull || cfg.FullScan)
		if err != nil {
			return fmt.Errorf("pass aborted: %w", err)
		}

		succeeded, partial, failed := report.Counts()
		mode := "incremental"
		if report.FullScan {
			mode = "full"
		}
		fmt.Printf("pass %s (%s): %d processed, %d succeeded, %d partial, %d failed\n",
			report.PassID, mode, len(report.Results), succeeded, partial, failed)
		for _, res := range report.Results {
			if res.Outcome != engine.OutcomeSuccess {
				fmt.Printf("  entity %d: %s", res.EntityID, res.Outcome)
				if res.Err != nil {
					fmt.Printf(" (%v)", res.Err)
				}
				fmt.Println()
			}
		}
		if report.CursorAdvanced {
			fmt.Printf("cursor advanced to %s\n", report.NewCursor.Format("2006-01-02T15:04:05Z07:00"))
		}

		if failed > 0 && cfg.FailOnEntityError {
			return fmt.Errorf("%d entities failed", failed)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "rescan the whole scope, ignoring the cursor")
	rootCmd.AddCommand(scanCmd)
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/trackdocs/foldersync/internal/config"
	"github.com/trackdocs/foldersync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync <work-item-id>",
	Short: "Reconcile a single work item",
	Long: `Reconciles one work item by id: ensures its canonical folder, mirrors
missing attachments, and updates its documentation-link field. The
cursor is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("work item id must be a positive integer, got %q", args[0])
		}

		cfg := config.FromEnv()
		logger := newLogger(cfg)
		orch, cursors, err := buildOrchestrator(cfg, logger)
		if err != nil {
			return err
		}
		defer cursors.Close()

		res, err := orch.SyncOne(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("entity %d: %s, link %s, %d attachments synced\n",
			res.EntityID, res.Outcome, res.Link, res.AttachmentsSynced)
		for _, name := range res.FailedAttachments {
			fmt.Printf("  attachment failed: %s\n", name)
		}
		if res.Outcome == engine.OutcomeFailed {
			return res.Err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

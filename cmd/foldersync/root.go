package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trackdocs/foldersync/internal/config"
	"github.com/trackdocs/foldersync/internal/cursor"
	"github.com/trackdocs/foldersync/internal/engine"
	"github.com/trackdocs/foldersync/internal/storage"
	"github.com/trackdocs/foldersync/internal/tracker"
)

var rootCmd = &cobra.Command{
	Use:   "foldersync",
	Short: "Mirrors tracked work items into canonical document-storage folders",
	Long: `foldersync reconciles project-tracking work items against a
hierarchical document store: each item gets a canonical folder named
"{id} - {proposal} - {title}" under its year and client, its
attachments are mirrored into that folder, and its documentation-link
field is pointed at it.

All configuration comes from FOLDERSYNC_* environment variables; an
optional YAML file maps raw client names to display names.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes to stderr, or to a size-rotated file when
// FOLDERSYNC_LOG_FILE is set.
func newLogger(cfg config.Config) *log.Logger {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
	}, "", log.LstdFlags)
}

// buildOrchestrator wires the service clients, cursor store, and
// engine from config. The returned cursor store must be closed by the
// caller.
func buildOrchestrator(cfg config.Config, logger *log.Logger) (*engine.Orchestrator, cursor.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	trk, err := tracker.NewHTTPClient(tracker.ClientOptions{
		BaseURL: cfg.TrackerBaseURL,
		Org:     cfg.TrackerOrg,
		Project: cfg.TrackerProject,
		PAT:     cfg.TrackerPAT,
	})
	if err != nil {
		return nil, nil, err
	}

	var tokens storage.TokenSource
	if cfg.StorageToken != "" {
		tokens = storage.StaticTokenSource(cfg.StorageToken)
	} else {
		tokens = &storage.ClientCredentialsTokenSource{
			TokenURL:     cfg.StorageTokenURL,
			ClientID:     cfg.StorageClientID,
			ClientSecret: cfg.StorageClientSecret,
		}
	}
	store, err := storage.NewHTTPClient(storage.ClientOptions{
		BaseURL:   cfg.StorageBaseURL,
		SiteID:    cfg.SiteID,
		DriveID:   cfg.DriveID,
		DriveName: cfg.DriveName,
		Tokens:    tokens,
	})
	if err != nil {
		return nil, nil, err
	}

	cursors, err := cursor.FromDSN(cfg.CursorDSN)
	if err != nil {
		return nil, nil, err
	}

	overrides, err := config.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		cursors.Close()
		return nil, nil, err
	}

	orch, err := engine.New(engine.Options{
		Tracker:      trk,
		Storage:      store,
		Cursors:      cursors,
		BasePath:     cfg.BasePath,
		LinkField:    cfg.LinkField,
		WorkItemType: cfg.WorkItemType,
		ClosedStates: cfg.ClosedStates,
		Overrides:    overrides,
		Logger:       logger,
	})
	if err != nil {
		cursors.Close()
		return nil, nil, err
	}
	return orch, cursors, nil
}

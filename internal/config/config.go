// Package config assembles runtime settings from the environment plus
// an optional YAML overrides file for client display names.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything the binary needs, read once at startup.
type Config struct {
	TrackerBaseURL string
	TrackerOrg     string
	TrackerProject string
	TrackerPAT     string

	StorageBaseURL      string
	StorageTokenURL     string
	StorageClientID     string
	StorageClientSecret string
	StorageToken        string
	SiteID              string
	DriveID             string
	DriveName           string

	BasePath     string
	LinkField    string
	WorkItemType string
	AreaPath     string
	ClosedStates []string

	OverridesFile string
	CursorDSN     string

	Addr          string
	WebhookSecret string
	MaxBodyBytes  int64
	ScanInterval  time.Duration

	LogFile string

	FullScan          bool
	FailOnEntityError bool
}

// FromEnv reads FOLDERSYNC_* variables. Values that fail to parse fall
// back with a logged warning rather than aborting startup.
func FromEnv() Config {
	cfg := Config{
		TrackerBaseURL: os.Getenv("FOLDERSYNC_TRACKER_BASE_URL"),
		TrackerOrg:     os.Getenv("FOLDERSYNC_TRACKER_ORG"),
		TrackerProject: os.Getenv("FOLDERSYNC_TRACKER_PROJECT"),
		TrackerPAT:     os.Getenv("FOLDERSYNC_TRACKER_PAT"),

		StorageBaseURL:      os.Getenv("FOLDERSYNC_STORAGE_BASE_URL"),
		StorageTokenURL:     os.Getenv("FOLDERSYNC_STORAGE_TOKEN_URL"),
		StorageClientID:     os.Getenv("FOLDERSYNC_STORAGE_CLIENT_ID"),
		StorageClientSecret: os.Getenv("FOLDERSYNC_STORAGE_CLIENT_SECRET"),
		StorageToken:        os.Getenv("FOLDERSYNC_STORAGE_TOKEN"),
		SiteID:              os.Getenv("FOLDERSYNC_STORAGE_SITE_ID"),
		DriveID:             os.Getenv("FOLDERSYNC_STORAGE_DRIVE_ID"),
		DriveName:           os.Getenv("FOLDERSYNC_STORAGE_DRIVE_NAME"),

		BasePath:     os.Getenv("FOLDERSYNC_BASE_PATH"),
		LinkField:    os.Getenv("FOLDERSYNC_LINK_FIELD"),
		WorkItemType: os.Getenv("FOLDERSYNC_WORK_ITEM_TYPE"),
		AreaPath:     os.Getenv("FOLDERSYNC_AREA_PATH"),
		ClosedStates: listEnv("FOLDERSYNC_CLOSED_STATES"),

		OverridesFile: os.Getenv("FOLDERSYNC_OVERRIDES_FILE"),
		CursorDSN:     os.Getenv("FOLDERSYNC_CURSOR_DSN"),

		Addr:          os.Getenv("FOLDERSYNC_ADDR"),
		WebhookSecret: os.Getenv("FOLDERSYNC_WEBHOOK_SECRET"),
		MaxBodyBytes:  int64Env("FOLDERSYNC_MAX_BODY_BYTES", 0),
		ScanInterval:  durationEnv("FOLDERSYNC_SCAN_INTERVAL", 0),

		LogFile: os.Getenv("FOLDERSYNC_LOG_FILE"),

		FullScan:          boolEnv("FOLDERSYNC_FULL_SCAN", false),
		FailOnEntityError: boolEnv("FOLDERSYNC_FAIL_ON_ENTITY_ERROR", false),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.WorkItemType == "" {
		cfg.WorkItemType = "Feature"
	}
	return cfg
}

// Validate checks the settings both service clients cannot run
// without.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.TrackerOrg) == "" {
		missing = append(missing, "FOLDERSYNC_TRACKER_ORG")
	}
	if strings.TrimSpace(c.TrackerProject) == "" {
		missing = append(missing, "FOLDERSYNC_TRACKER_PROJECT")
	}
	if strings.TrimSpace(c.TrackerPAT) == "" {
		missing = append(missing, "FOLDERSYNC_TRACKER_PAT")
	}
	if strings.TrimSpace(c.DriveID) == "" && strings.TrimSpace(c.SiteID) == "" {
		missing = append(missing, "FOLDERSYNC_STORAGE_DRIVE_ID or FOLDERSYNC_STORAGE_SITE_ID")
	}
	if strings.TrimSpace(c.StorageToken) == "" {
		if strings.TrimSpace(c.StorageTokenURL) == "" || strings.TrimSpace(c.StorageClientID) == "" || strings.TrimSpace(c.StorageClientSecret) == "" {
			missing = append(missing, "FOLDERSYNC_STORAGE_TOKEN or the FOLDERSYNC_STORAGE_TOKEN_URL/CLIENT_ID/CLIENT_SECRET trio")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func listEnv(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %v", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}

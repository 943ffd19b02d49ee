package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/trackdocs/foldersync/internal/namefmt"
)

// overridesFile is the on-disk shape of the client-name override
// table:
//
//	clients:
//	  "acme ltd": "ACME Holdings"
type overridesFile struct {
	Clients map[string]string `yaml:"clients"`
}

// LoadOverrides reads the override table. A missing file is an empty
// table, not an error, so deployments without one need no placeholder.
func LoadOverrides(path string) (namefmt.Overrides, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read overrides: %w", err)
	}
	var parsed overridesFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse overrides: %w", err)
	}
	return namefmt.NewOverrides(parsed.Clients), nil
}

// WatchOverrides reloads the override file on change and hands the new
// table to apply. Editors that replace the file wholesale (rename over
// it) are handled by watching the directory rather than the file
// itself. The returned stop function ends the watch.
func WatchOverrides(path string, logger interface{ Printf(string, ...any) }, apply func(namefmt.Overrides)) (func() error, error) {
	if strings.TrimSpace(path) == "" {
		return func() error { return nil }, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: start overrides watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				overrides, err := LoadOverrides(path)
				if err != nil {
					// A half-written file stays out of effect; the
					// previous table keeps serving.
					logger.Printf("overrides reload failed: %v", err)
					continue
				}
				logger.Printf("overrides reloaded from %s (%d entries)", path, len(overrides))
				apply(overrides)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("overrides watcher error: %v", err)
			}
		}
	}()
	return watcher.Close, nil
}

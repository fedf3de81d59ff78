package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// reloadDebounce collapses the burst of events editors emit for a single save.
const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the configuration file whenever it changes on disk.
type Watcher struct {
	path     string
	onChange func(*Config)
}

// NewWatcher creates a watcher for path. onChange receives every successfully
// reloaded configuration; files that fail to parse are logged and skipped.
func NewWatcher(path string, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, onChange: onChange}
}

// Run blocks until ctx is cancelled. The parent directory is watched rather than
// the file itself so atomic rename-on-save keeps working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer func() {
		if errClose := fw.Close(); errClose != nil {
			log.Errorf("config watcher: close error: %v", errClose)
		}
	}()

	absPath, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	if err = fw.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(absPath), err)
	}
	log.Debugf("watching config file %s", absPath)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != absPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)
		case errWatch, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watcher error: %v", errWatch)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		log.Warnf("config reload skipped: %v", err)
		return
	}
	if _, err = ValidateConfig(cfg); err != nil {
		log.Warnf("config reload rejected: %v", err)
		return
	}
	log.Info("configuration file changed, applying new settings")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

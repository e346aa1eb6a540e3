package router

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/quorumlabs/quorum/internal/config"
	"github.com/quorumlabs/quorum/internal/logging"
)

// ConfigWatcher reloads the router when the config file changes on disk,
// so stage rosters and thresholds can be edited without restarting.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	router   *Router
	path     string
	load     func() (*config.Config, error)
	onReload func(*config.Config)
	logger   *logging.Logger
	stopCh   chan struct{}
}

// NewConfigWatcher creates a watcher for the config file at path. load is
// called to re-read the configuration after each change; onReload, if set,
// is called after the router has picked up the new configuration.
func NewConfigWatcher(router *Router, path string, load func() (*config.Config, error), onReload func(*config.Config), logger *logging.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	cw := &ConfigWatcher{
		watcher:  watcher,
		router:   router,
		path:     path,
		load:     load,
		onReload: onReload,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	// Watch the directory; editors replace files rather than writing in
	// place, and fsnotify tracks directories across that reliably.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return cw, nil
}

// Start begins watching for config changes.
func (w *ConfigWatcher) Start() {
	go w.watchLoop()
}

// Stop stops the watcher.
func (w *ConfigWatcher) Stop() {
	close(w.stopCh)
	w.watcher.Close()
}

// watchLoop processes filesystem events for the config file.
func (w *ConfigWatcher) watchLoop() {
	targetFile := filepath.Base(w.path)
	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != targetFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce: editors emit several events per save.
			debounceTimer.Reset(100 * time.Millisecond)

		case <-debounceTimer.C:
			cfg, err := w.load()
			if err != nil {
				// Keep the last good configuration on a broken edit.
				w.logger.Warn("config reload failed, keeping previous",
					"path", w.path,
					"error", err.Error(),
				)
				continue
			}
			w.router.Reload(cfg)
			if w.onReload != nil {
				w.onReload(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err.Error())
		}
	}
}

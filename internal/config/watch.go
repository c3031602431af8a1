package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/koios/countdown-renderer/pkg/models"
	"go.uber.org/zap"
)

// DefaultsWatcher loads the timer defaults file and reapplies it on change
type DefaultsWatcher struct {
	path     string
	apply    func(models.TimerConfig)
	logger   *zap.Logger
	debounce time.Duration
}

// NewDefaultsWatcher creates a watcher that hands every successfully parsed
// version of the file at path to apply
func NewDefaultsWatcher(path string, apply func(models.TimerConfig), logger *zap.Logger) *DefaultsWatcher {
	return &DefaultsWatcher{
		path:     filepath.Clean(path),
		apply:    apply,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}
}

// Reload reads the file once and applies it
func (w *DefaultsWatcher) Reload() error {
	cfg, err := models.LoadDefaults(w.path, time.Now())
	if err != nil {
		return err
	}
	w.apply(cfg)
	w.logger.Info("Timer defaults loaded", zap.String("path", w.path))
	return nil
}

// Run watches the file's directory until ctx is cancelled. Editors often
// replace files instead of writing them in place, so the directory is
// watched and events are filtered by name.
func (w *DefaultsWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch defaults directory: %w", err)
	}

	w.logger.Info("Watching timer defaults file", zap.String("path", w.path))

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				if err := w.Reload(); err != nil {
					w.logger.Error("Failed to reload timer defaults, keeping previous", zap.Error(err))
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Defaults watcher error", zap.Error(err))
		}
	}
}

// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/shopstream/campaign-engine/internal/log"
)

// Watcher reloads the config file on change and hands validated configs to
// a callback. Invalid files keep the previous configuration.
type Watcher struct {
	path     string
	onChange func(Config)
	logger   zerolog.Logger

	// debounce collapses editor write bursts into one reload.
	debounce time.Duration
}

// NewWatcher builds a Watcher for path. onChange runs on the watcher
// goroutine with each successfully loaded config.
func NewWatcher(path string, onChange func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   log.WithComponent("config"),
		debounce: 500 * time.Millisecond,
	}
}

// Start begins watching. A no-op when no config file is in use. The watcher
// stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if w.path == "" {
		w.logger.Info().Msg("config watcher disabled, environment-only configuration")
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("config: watch %s: %w", w.path, err)
	}

	w.logger.Info().Str("path", w.path).Msg("watching config file for changes")
	go w.loop(ctx, fw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer func() { _ = fw.Close() }()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("config watcher stopped")
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			// Write and Create cover the save strategies of common editors.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() { w.reload() })

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("config reload failed, keeping previous configuration")
		return
	}
	w.logger.Info().Msg("configuration reloaded")
	w.onChange(cfg)
}

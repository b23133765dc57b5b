package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and pushes the per-asset
// quoting parameters to the engine through a callback. A cooldown keeps
// editor write bursts from triggering repeated reloads.
type Watcher struct {
	Path     string
	Cooldown time.Duration

	lastReload time.Time
}

// Start blocks watching the file until ctx is cancelled. onUpdate receives
// every successfully reloaded and validated config; load failures are
// swallowed so a half-written file never kills the watcher.
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if w.Cooldown <= 0 {
		w.Cooldown = 5 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.Path); err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(w.lastReload) < w.Cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				continue
			}
			w.lastReload = time.Now()
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

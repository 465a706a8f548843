package profile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the event bursts editors produce on save
// into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Watch reloads the registry whenever a .toml file in the user profile
// directory changes. Runs until the context is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	if r.cfg.Dir == "" {
		return errors.New("no profile directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create profile watcher: %w", err)
	}
	if err := watcher.Add(r.cfg.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.cfg.Dir, err)
	}

	go r.watchLoop(ctx, watcher)
	return nil
}

// watchLoop processes directory events until the watcher closes or the
// context is cancelled.
func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".toml" {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("profile directory changed")
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			if err := r.Reload(); err != nil {
				r.logger.Error().Err(err).Msg("profile reload failed")
			} else {
				r.logger.Info().Msg("profiles reloaded")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("profile watcher error")

		case <-ctx.Done():
			return
		}
	}
}

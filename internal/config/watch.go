package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads cfg whenever <DataDir>/config.json changes on disk,
// swapping fields in place via ReplaceFrom so existing holders of cfg observe
// the new values without re-fetching a pointer. Returns a stop function.
func Watch(cfg *Config) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(cfg.DataDir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == "" {
					continue
				}
				if !(ev.Op&(fsnotify.Write|fsnotify.Create) != 0) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					reloaded, err := Load(cfg.DataDir)
					if err != nil {
						slog.Warn("config.reload_failed", "error", err)
						return
					}
					cfg.ReplaceFrom(reloaded)
					slog.Info("config.reloaded")
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.watch_error", "error", err)
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

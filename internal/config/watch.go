package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Watch polls the config file's modification time and calls Reload whenever
// it changes, until ctx is cancelled. The daemon runs it in the background;
// it is the only path that triggers Reload (there is no separate manual
// reload command or signal handler).
func Watch(ctx context.Context, path string, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	var lastMod time.Time
	if fi, err := os.Stat(path); err == nil {
		lastMod = fi.ModTime()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			if fi.ModTime().After(lastMod) {
				lastMod = fi.ModTime()
				if _, err := Reload(); err != nil {
					slog.Warn("config: watcher reload failed", "error", err)
				}
			}
		}
	}
}

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce collapses the burst of events an editor produces for one
// save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the file at path whenever it changes and passes the result
// to onChange, until ctx is done. The directory is watched rather than the
// file, so editors that save by renaming a new file into place are seen.
// A file that fails to load, or a failure of the watcher itself, is
// reported with a nil config and the error. onChange is never called
// concurrently.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		watchLoop(ctx, abs, watcher.Events, watcher.Errors, onChange)
	}()
	return nil
}

func watchLoop(ctx context.Context, abs string, events <-chan fsnotify.Event, errs <-chan error, onChange func(*Config, error)) {
	var mu sync.Mutex
	report := func(cfg *Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		onChange(cfg, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := LoadFile(abs)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			cfg = nil
		}
		report(cfg, err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)
		case err, ok := <-errs:
			if !ok {
				return
			}
			report(nil, fmt.Errorf("watch %s: %w", abs, err))
		}
	}
}

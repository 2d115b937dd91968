package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher observes configuration-adjacent files (the .env file and the
// mapping reload sentinel under DataDir) and invokes the registered
// callback when any of them change. Events are debounced so an editor
// writing a file in several syscalls triggers one reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	onChange func(path string)
	paths    map[string]bool

	mu      sync.Mutex
	pending *time.Timer
}

const watchDebounce = 500 * time.Millisecond

// NewWatcher builds a Watcher over paths. Missing paths are skipped; a
// watcher with nothing to watch is still valid (Start is a no-op).
func NewWatcher(paths []string, onChange func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{watcher: fw, onChange: onChange, paths: map[string]bool{}}
	for _, p := range paths {
		w.paths[filepath.Clean(p)] = true
		// Watch the parent directory so re-creates (rename+write, the
		// common editor save pattern) are still observed.
		if err := fw.Add(filepath.Dir(p)); err != nil {
			log.Debug().Err(err).Str("path", p).Msg("Skipping unwatchable config path")
		}
	}
	return w, nil
}

// Start runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// The parent directory is watched; ignore its other files.
				if !w.paths[filepath.Clean(ev.Name)] {
					continue
				}
				w.schedule(ev.Name)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(watchDebounce, func() {
		log.Info().Str("path", path).Msg("Configuration change detected")
		w.onChange(path)
	})
}

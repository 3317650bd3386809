// Package watcher reports changes to configuration files so they can be hot reloaded.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces the burst of events editors produce for a single save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls onChange when one of the target files is written, created or replaced.
// It watches the parent directories since editors often replace files by rename.
type Watcher struct {
	ctx      context.Context
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	onChange func(path string)
	targets  map[string]bool
	timers   map[string]*time.Timer
	parents  []string
	debounce time.Duration
	mu       sync.Mutex
	running  bool
}

// New creates a Watcher for the given file paths.
func New(paths []string, onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		ctx:      ctx,
		watcher:  fsw,
		cancel:   cancel,
		onChange: onChange,
		targets:  make(map[string]bool, len(paths)),
		timers:   make(map[string]*time.Timer),
		debounce: DefaultDebounce,
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		p = filepath.Clean(p)
		w.targets[p] = true
		parent := filepath.Dir(p)
		if !seen[parent] {
			seen[parent] = true
			w.parents = append(w.parents, parent)
		}
	}
	return w, nil
}

// SetDebounce changes the quiet period before onChange fires.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Start begins watching. It is a no-op when already running.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, parent := range w.parents {
		if err := w.addWatch(parent); err != nil {
			// The directory may appear later; the data dir is created on first run
			log.Warn().Err(err).Str("path", parent).Msg("Failed to add initial watch")
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher and cancels pending callbacks.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.running = false
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return w.watcher.Add(dir)
}

func (w *Watcher) isParent(path string) bool {
	for _, p := range w.parents {
		if p == path {
			return true
		}
	}
	return false
}

func (w *Watcher) watchLoop() {
	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			path := filepath.Clean(event.Name)

			if w.isParent(path) && event.Op&fsnotify.Create != 0 {
				log.Info().Str("path", path).Msg("Config directory recreated, re-establishing watch")
				if err := w.addWatch(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Failed to re-establish watch")
				}
				continue
			}

			if !w.targets[path] || event.Op&relevant == 0 {
				continue
			}
			w.schedule(path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule fires onChange for path once events stop arriving for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		log.Info().Str("path", path).Msg("Config file changed")
		if w.onChange != nil {
			w.onChange(path)
		}
	})
}

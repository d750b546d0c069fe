// Package modelwatch watches the models directory for changes made
// outside this process — a model directory removed by hand while the
// service is running — and keeps the in-memory model cache from
// serving a stale hit against files that no longer exist on disk.
package modelwatch

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"scribe/internal/modelcache"
	"scribe/pkg/logger"
)

// Watcher observes modelsDir and forgets cache entries for models
// whose directory was removed out from under the service.
type Watcher struct {
	fsw   *fsnotify.Watcher
	cache *modelcache.Cache
	done  chan struct{}
}

// Start begins watching modelsDir. The returned Watcher must be
// stopped with Close once the service shuts down.
func Start(modelsDir string, cache *modelcache.Cache) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(modelsDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, cache: cache, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			logger.Warn("model directory removed externally", "model", name)
			w.cache.Forget(name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("model watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

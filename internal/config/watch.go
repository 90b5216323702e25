package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the directory containing the
// Store's config file (editors commonly replace a file via
// rename-into-place, which fsnotify only reports against the containing
// directory); only events for the config file itself trigger Reload,
// after a short debounce.
// Watch returns once the watcher is running; call the returned stop
// function to tear it down.
func (s *Store) Watch(ctx context.Context) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go s.watchLoop(watchCtx, watcher, &wg)

	return func() {
		cancel()
		watcher.Close()
		wg.Wait()
	}, nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, wg *sync.WaitGroup) {
	defer wg.Done()

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var timerMu sync.Mutex
	scheduleReload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := s.Reload(); err != nil {
				s.logger.Warn("config watch reload failed", "error", err)
			}
		})
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}

package theme

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the themes root and reports which theme changed. Stop must
// be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

const watchDebounce = 25 * time.Millisecond

// Watch wires fsnotify around every theme directory under root. For each
// burst of changes inside one theme the provider forgets its manifest and
// onChange receives the theme name.
func (p *FileProvider) Watch(ctx context.Context, onChange func(themeName string), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("theme: watch requires a change callback")
	}
	root, err := filepath.Abs(p.root)
	if err != nil {
		return nil, fmt.Errorf("theme: resolve root: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("theme: watch: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}
	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	signalReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				report(fmt.Errorf("theme: watch close: %w", err))
			}
		}()
		defer signalReady()

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				report(fmt.Errorf("theme: watch add %s: %w", dir, err))
				return
			}
			dirs[dir] = struct{}{}
		}
		if err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				report(fmt.Errorf("theme: walk watcher %s: %w", path, walkErr))
				return nil
			}
			if d.IsDir() {
				addDir(path)
			}
			return nil
		}); err != nil {
			report(fmt.Errorf("theme: traverse watcher %s: %w", root, err))
		}

		signalReady()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time
		schedule := func(themeName string) {
			pending[themeName] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		}
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-fire:
				fire = nil
				for themeName := range pending {
					p.Reload(themeName)
					onChange(themeName)
				}
				pending = map[string]struct{}{}
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(name); err == nil && info.IsDir() {
						addDir(name)
					}
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if themeName := themeOf(root, name); themeName != "" {
					schedule(themeName)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("theme: watch error: %w", err))
			}
		}
	}()

	<-ready
	return w, nil
}

// themeOf maps a changed path to the theme directory containing it.
func themeOf(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	return first
}

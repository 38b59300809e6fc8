package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits for edits to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watch calls onChange with a fresh Load of dir after each settled burst of
// markdown edits, until ctx is done. Subdirectories created while watching
// are picked up.
func (l *Loader) Watch(ctx context.Context, dir string, debounce time.Duration, onChange func(Result, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("knowledge: create watcher: %w", err)
	}
	defer watcher.Close()

	if err := addWatchDirs(watcher, dir); err != nil {
		return fmt.Errorf("knowledge: watch %s: %w", dir, err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !strings.HasPrefix(filepath.Base(event.Name), ".") {
						_ = watcher.Add(event.Name)
					}
					continue
				}
			}
			if !relevant(event) {
				continue
			}
			pending = true
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.Logger.Warn().Err(err).Msg("watch error")

		case <-timer.C:
			if !pending {
				continue
			}
			pending = false
			res, err := l.Load(dir)
			onChange(res, err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return strings.EqualFold(filepath.Ext(base), ".md") || base == IgnoreFile
}

func addWatchDirs(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before a batch of changes is flushed.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the relative paths changed during one debounce window.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher reports file changes under a Walker's root, debounced and
// filtered by the Walker's globs.
type Watcher struct {
	walker   *Walker
	debounce time.Duration
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher creates an fsnotify watcher for walker's root.
func NewWatcher(walker *Walker, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	return &Watcher{walker: walker, debounce: debounce, logger: logger, fsw: fsw}, nil
}

// Run watches until ctx is done, calling fn with each debounced batch. fn
// runs on the watcher goroutine, so batches never overlap.
func (w *Watcher) Run(ctx context.Context, fn ChangeFunc) error {
	defer w.fsw.Close()
	if _, err := w.addTree(w.walker.Root()); err != nil {
		return err
	}

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if rels := w.handle(ev); len(rels) > 0 {
				for _, rel := range rels {
					pending[rel] = struct{}{}
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch_error", slog.String("error", err.Error()))
		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			clear(pending)
			w.logger.Debug("watch_flush", slog.Int("paths", len(paths)))
			fn(ctx, paths)
		}
	}
}

// handle filters an event and returns the relative paths to re-index. A new
// directory is added to the watch set and its files are reported, since
// they may have been written before the watch was in place.
func (w *Watcher) handle(ev fsnotify.Event) []string {
	if ev.Op == fsnotify.Chmod {
		return nil
	}
	rel, err := filepath.Rel(w.walker.Root(), ev.Name)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if w.walker.Ignored(rel, true) {
				return nil
			}
			var files []string
			files, err = w.addTree(ev.Name)
			if err != nil {
				w.logger.Warn("watch_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
			}
			return files
		}
	}
	if w.walker.Ignored(rel, false) {
		return nil
	}
	return []string{rel}
}

// addTree watches every non-excluded directory under root and returns the
// non-excluded files found.
func (w *Watcher) addTree(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(w.walker.Root(), p)
		rel = filepath.ToSlash(rel)
		if !d.IsDir() {
			if !w.walker.Ignored(rel, false) {
				files = append(files, rel)
			}
			return nil
		}
		if rel != "." && w.walker.Ignored(rel, true) {
			return fs.SkipDir
		}
		if err := w.fsw.Add(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("watch %s: %w", rel, err)
		}
		return nil
	})
	return files, err
}

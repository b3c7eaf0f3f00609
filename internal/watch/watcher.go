// Package watch reports out-of-band edits to a local storage root.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/scribe/internal/storage"
)

// Event types passed to the callback.
const (
	EventPostChanged  = "post.changed"
	EventDraftChanged = "draft.changed"
)

// DefaultDebounce is how long a burst of file events for one identifier is
// coalesced before the callback fires.
const DefaultDebounce = 200 * time.Millisecond

// Callback is called once per changed identifier after a quiet period.
type Callback func(kind, id string)

type key struct {
	kind string
	id   string
}

// Watch starts an fsnotify watcher on the storage directory dir (the
// directory holding "draft" and "post") and reports changed identifiers
// until ctx is cancelled. Hidden files, including in-flight temp files of
// atomic writes, are ignored.
//
// New directories created at runtime are automatically added to the watch
// list. The writes of a single save arrive as one callback per identifier.
func Watch(ctx context.Context, dir string, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, dir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", dir))

	pending := make(map[key]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(k key) {
		pending[k] = struct{}{}
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush(pending, cb)
			pending = make(map[key]struct{})

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}

			k, ok := classify(dir, ev.Name)
			if !ok {
				continue
			}
			logger.Debug("watcher: change",
				slog.String("kind", k.kind),
				slog.String("id", k.id),
				slog.String("op", ev.Op.String()))
			schedule(k)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func flush(pending map[key]struct{}, cb Callback) {
	if cb == nil {
		return
	}
	keys := make([]key, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].id < keys[j].id
	})
	for _, k := range keys {
		cb(k.kind, k.id)
	}
}

// classify maps an absolute file path to the identifier it belongs to.
// Only paths at least one level below <dir>/draft or <dir>/post count.
func classify(dir, name string) (key, bool) {
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return key{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return key{}, false
	}
	for _, p := range parts {
		if p == ".." || strings.HasPrefix(p, ".") {
			return key{}, false
		}
	}
	switch parts[0] {
	case storage.PostRoot:
		return key{kind: EventPostChanged, id: parts[1]}, true
	case storage.DraftRoot:
		return key{kind: EventDraftChanged, id: parts[1]}, true
	}
	return key{}, false
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

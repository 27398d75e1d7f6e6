package remotestorage

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/othala/internal/meta"
	"github.com/starford/othala/internal/rspath"
	"github.com/starford/othala/internal/storage"
)

// EventCallback is called after a watcher-driven ledger change.
// kind is one of "created" or "deleted".
type EventCallback func(kind string, path string)

// Watch starts an fsnotify watcher on the storage base directory and keeps
// the ledger consistent with out-of-band filesystem changes until ctx is
// cancelled. It only repairs invariant breaks: a file appearing without a
// ledger row gets versioned, a row whose file disappeared gets pruned.
// Writes that go through the coordinator already hold both sides, so their
// events are no-ops here.
//
// New directories created at runtime are added to the watch list. Rename
// events schedule a debounced full sweep to catch moves across directories.
func Watch(ctx context.Context, docs storage.Provider, ledger *meta.DB, baseDir string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, baseDir); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", baseDir))

	// sweepTimer debounces the full reconciliation after renames.
	var sweepTimer *time.Timer
	var sweepCh <-chan time.Time

	scheduleSweep := func() {
		if sweepTimer == nil {
			sweepTimer = time.NewTimer(200 * time.Millisecond)
			sweepCh = sweepTimer.C
		} else {
			sweepTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if sweepTimer != nil {
				sweepTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-sweepCh:
			if err := Sweep(docs, ledger, logger); err != nil {
				logger.Warn("watcher: sweep failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// Files may already sit inside the new directory.
					scheduleSweep()
					continue
				}
			}

			p, ok := docPath(baseDir, absPath)
			if !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				rec, getErr := ledger.Get(p.String())
				if getErr != nil || rec != nil {
					continue
				}
				if repErr := repairDocument(docs, ledger, p); repErr != nil {
					logger.Warn("watcher: repair failed", slog.String("path", p.String()), slog.String("error", repErr.Error()))
					continue
				}
				logger.Debug("watcher: versioned", slog.String("path", p.String()))
				if cb != nil {
					cb("created", p.String())
				}

			case ev.Op&fsnotify.Remove != 0:
				rec, getErr := ledger.Get(p.String())
				if getErr != nil || rec == nil || docs.Exists(p) {
					continue
				}
				if prErr := pruneDocument(docs, ledger, p); prErr != nil {
					logger.Warn("watcher: prune failed", slog.String("path", p.String()), slog.String("error", prErr.Error()))
					continue
				}
				logger.Debug("watcher: pruned", slog.String("path", p.String()))
				if cb != nil {
					cb("deleted", p.String())
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the old path only; the new path
				// arrives as a separate Create. The sweep settles both ends.
				scheduleSweep()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// docPath converts an absolute filesystem path into a document path, skipping
// temp files and anything that does not parse as a remoteStorage address.
func docPath(baseDir, absPath string) (rspath.Path, bool) {
	rel, err := filepath.Rel(baseDir, absPath)
	if err != nil {
		return rspath.Path{}, false
	}
	if strings.HasPrefix(filepath.Base(rel), ".othala-tmp-") {
		return rspath.Path{}, false
	}
	p, err := rspath.Parse("/" + filepath.ToSlash(rel))
	if err != nil {
		return rspath.Path{}, false
	}
	return p, true
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

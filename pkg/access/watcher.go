package access

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/archivum/docflow/pkg/authz"
)

// SeedWatcher re-syncs a policy seed file whenever it changes on disk.
type SeedWatcher struct {
	store    *PolicyStore
	path     string
	debounce time.Duration
	logger   *slog.Logger
	synced   chan SyncReport
	version  string
}

// NewSeedWatcher creates a SeedWatcher for path.
func NewSeedWatcher(store *PolicyStore, path string, logger *slog.Logger) *SeedWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SeedWatcher{
		store:    store,
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		logger:   logger,
		synced:   make(chan SyncReport, 1),
	}
}

// Synced delivers the report of each sync that changed the file version.
// Reports are dropped when nobody reads them.
func (w *SeedWatcher) Synced() <-chan SyncReport { return w.synced }

// Run syncs the file once, then watches its directory until ctx is done.
// Editors often replace files by rename, so the directory is watched
// rather than the file.
func (w *SeedWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy seed watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.sync(ctx)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy seed watcher error", "path", w.path, "error", err)
		case <-fire:
			fire = nil
			w.sync(ctx)
		}
	}
}

func (w *SeedWatcher) sync(ctx context.Context) {
	report, err := w.store.SyncFile(ctx, w.path, authz.SystemActor())
	if err != nil {
		w.logger.Warn("policy seed sync failed", "path", w.path, "error", err)
		return
	}
	if report.Version == w.version {
		return
	}
	w.version = report.Version
	w.logger.Info("policy seed synced", "path", w.path,
		"created", report.Created, "updated", report.Updated, "unchanged", report.Unchanged)
	select {
	case w.synced <- *report:
	default:
	}
}

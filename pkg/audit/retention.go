package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionSweeper deletes audit events past the retention window. It runs
// as the audit_retention routine of the job scheduler.
type RetentionSweeper struct {
	store     *Store
	retention time.Duration
	logger    *slog.Logger
}

// NewRetentionSweeper creates a sweeper keeping retentionDays of events.
// Zero or negative retention disables it.
func NewRetentionSweeper(store *Store, retentionDays int, logger *slog.Logger) *RetentionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionSweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		logger:    logger,
	}
}

// Sweep deletes events created before now minus the retention window.
// Re-running it for the same now deletes nothing further.
func (w *RetentionSweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if w.store == nil || w.retention <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Error("audit retention sweep failed", "error", err)
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("audit retention sweep completed",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

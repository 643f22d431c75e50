package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/httputil"
)

// RunStore provides database operations for routine runs.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// AutoMigrate creates or updates the job_runs table.
func (s *RunStore) AutoMigrate() error {
	return s.db.AutoMigrate(&JobRun{})
}

// RunListFilter defines filters for listing runs.
type RunListFilter struct {
	Routine string
	State   string
}

// Begin claims the run of routine for period. It returns started=false with
// the existing run when the period already succeeded, is running elsewhere
// or has used up maxAttempts; a failed run with attempts left is retried.
// Safe for concurrent use.
func (s *RunStore) Begin(ctx context.Context, routine string, period, now time.Time, maxAttempts int) (*JobRun, bool, error) {
	key := idempotencyKey(routine, period)
	var (
		run     JobRun
		started bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("idempotency_key = ?", key).First(&run).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			run = JobRun{
				ID:             uuid.New().String(),
				Routine:        routine,
				PeriodKey:      periodKey(period),
				IdempotencyKey: key,
				State:          RunStateRunning,
				AttemptCount:   1,
				StartedAt:      &now,
				CreatedAt:      now,
			}
			if err := tx.Create(&run).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return apperr.Conflict("run %s is already claimed", key)
				}
				return fmt.Errorf("create run: %w", err)
			}
			started = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if run.State != RunStateFailed || run.AttemptCount >= maxAttempts {
			return nil
		}

		res := tx.Model(&JobRun{}).
			Where("id = ? AND state = ? AND attempt_count = ?", run.ID, RunStateFailed, run.AttemptCount).
			Updates(map[string]any{
				"state":         RunStateRunning,
				"started_at":    now,
				"finished_at":   nil,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("retry run: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		started = true
		return tx.First(&run, "id = ?", run.ID).Error
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			// Lost the race to another scheduler; report its run.
			existing, getErr := s.getByKey(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("begin run: %w", err)
	}
	return &run, started, nil
}

// Complete marks attempt of a run as succeeded. An attempt that was
// reclaimed as stale and retried no longer owns the run and gets
// InvalidState.
func (s *RunStore) Complete(ctx context.Context, id string, attempt int, summary dbtypes.Map, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&JobRun{}).
		Where("id = ? AND state = ? AND attempt_count = ?", id, RunStateRunning, attempt).
		Updates(map[string]any{
			"state":       RunStateSucceeded,
			"finished_at": now,
			"summary":     summary,
			"last_error":  "",
		})
	if res.Error != nil {
		return fmt.Errorf("complete run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("run %s attempt %d is not running", id, attempt)
	}
	return nil
}

// Fail marks attempt of a run as failed. Scheduler.RunOnce retries it on a
// later tick while attempts remain.
func (s *RunStore) Fail(ctx context.Context, id string, attempt int, errMsg string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&JobRun{}).
		Where("id = ? AND state = ? AND attempt_count = ?", id, RunStateRunning, attempt).
		Updates(map[string]any{
			"state":       RunStateFailed,
			"finished_at": now,
			"last_error":  errMsg,
		})
	if res.Error != nil {
		return fmt.Errorf("fail run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.InvalidState("run %s attempt %d is not running", id, attempt)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*JobRun, error) {
	var run JobRun
	err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("job run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

func (s *RunStore) getByKey(ctx context.Context, key string) (*JobRun, error) {
	var run JobRun
	if err := s.db.WithContext(ctx).First(&run, "idempotency_key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("get run %s: %w", key, err)
	}
	return &run, nil
}

// List returns paginated runs matching the given filter, newest first.
func (s *RunStore) List(ctx context.Context, filter RunListFilter, pageSize int, pageToken string) ([]JobRun, string, int, error) {
	pageSize = httputil.ClampPageSize(pageSize)

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.WithContext(ctx).Model(&JobRun{})
		if filter.Routine != "" {
			q = q.Where("routine = ?", filter.Routine)
		}
		if filter.State != "" {
			q = q.Where("state = ?", filter.State)
		}
		return q
	}

	var totalSize int64
	if err := buildQuery(s.db).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count runs: %w", err)
	}

	query := buildQuery(s.db).Order("created_at DESC").Order("id DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := httputil.ParsePageToken(pageToken)
		if err != nil {
			return nil, "", 0, err
		}
		query = query.Where("created_at < ?", t)
	}

	var records []JobRun
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list runs: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// ReclaimStale fails running runs started before cutoff so that they can
// be retried. A scheduler that died mid-run leaves such rows behind.
func (s *RunStore) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&JobRun{}).
		Where("state = ? AND started_at < ?", RunStateRunning, cutoff).
		Updates(map[string]any{
			"state":       RunStateFailed,
			"finished_at": now,
			"last_error":  "timed out (stale run reclaimed)",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan removes terminal runs finished before cutoff.
func (s *RunStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state IN ? AND finished_at < ?", []RunState{RunStateSucceeded, RunStateFailed}, cutoff).
		Delete(&JobRun{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

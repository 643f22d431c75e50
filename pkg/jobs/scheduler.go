package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/metrics"
)

// Handler executes one run of a routine for the period starting at the
// given time. The returned summary is stored with the run.
type Handler func(ctx context.Context, now time.Time) (map[string]any, error)

// Routine is a named periodic task.
type Routine struct {
	Name    string
	Every   time.Duration
	Handler Handler
}

// Scheduler runs routines once per period.
type Scheduler struct {
	store    *RunStore
	routines map[string]Routine
	order    []string
	cfg      *JobConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	done map[string]time.Time // routine -> last period handled by this process
	wg   sync.WaitGroup
}

// NewScheduler creates a Scheduler. Routine names must be unique and every
// routine needs a positive period and a handler.
func NewScheduler(store *RunStore, routines []Routine, cfg *JobConfig, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:    store,
		routines: make(map[string]Routine, len(routines)),
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		done:     map[string]time.Time{},
	}
	for _, r := range routines {
		switch {
		case r.Name == "":
			return nil, apperr.Validation("routine name is required")
		case r.Every <= 0:
			return nil, apperr.Validation("routine %s: period must be positive", r.Name)
		case r.Handler == nil:
			return nil, apperr.Validation("routine %s: handler is required", r.Name)
		}
		if _, dup := s.routines[r.Name]; dup {
			return nil, apperr.Validation("routine %s registered twice", r.Name)
		}
		s.routines[r.Name] = r
		s.order = append(s.order, r.Name)
	}
	return s, nil
}

// Routines returns the routine names in registration order.
func (s *Scheduler) Routines() []string {
	return append([]string(nil), s.order...)
}

// RunOnce runs the named routine for the period containing now. It returns
// ran=false with the recorded run when the period needs no further work.
// A handler failure is recorded on the run and returned.
func (s *Scheduler) RunOnce(ctx context.Context, name string, now time.Time) (*JobRun, bool, error) {
	r, ok := s.routines[name]
	if !ok {
		return nil, false, apperr.NotFound("routine %s not found", name)
	}
	period := now.UTC().Truncate(r.Every)

	run, started, err := s.store.Begin(ctx, r.Name, period, now.UTC(), s.cfg.MaxAttempts)
	if err != nil {
		return nil, false, err
	}
	if !started {
		s.logger.Debug("routine already handled for period",
			"routine", r.Name, "period", periodKey(period), "state", run.State)
		return run, false, nil
	}

	s.logger.Info("running routine", "routine", r.Name, "period", periodKey(period), "attempt", run.AttemptCount)
	start := time.Now()
	summary, runErr := s.invoke(ctx, r, now)
	elapsed := time.Since(start)
	finished := now.UTC().Add(elapsed)

	if runErr != nil {
		s.metrics.JobRun(r.Name, "failed", elapsed)
		s.logger.Error("routine failed", "routine", r.Name, "attempt", run.AttemptCount, "error", runErr)
		if err := s.store.Fail(context.WithoutCancel(ctx), run.ID, run.AttemptCount, runErr.Error(), finished); err != nil {
			s.logger.Error("failed to mark run as failed", "runID", run.ID, "error", err)
		}
		run.State, run.LastError = RunStateFailed, runErr.Error()
		return run, true, fmt.Errorf("routine %s: %w", r.Name, runErr)
	}

	s.metrics.JobRun(r.Name, "succeeded", elapsed)
	s.logger.Info("routine completed", "routine", r.Name, "duration", elapsed.String())
	if err := s.store.Complete(context.WithoutCancel(ctx), run.ID, run.AttemptCount, dbtypes.Map(summary), finished); err != nil {
		return run, true, err
	}
	run.State, run.Summary = RunStateSucceeded, summary
	return run, true, nil
}

func (s *Scheduler) invoke(ctx context.Context, r Routine, now time.Time) (summary map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("routine panicked", "routine", r.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.Handler(ctx, now)
}

// Run dispatches due routines every PollInterval until ctx is cancelled,
// then waits for in-flight routines to finish.
func (s *Scheduler) Run(ctx context.Context) {
	if s.store == nil || !s.cfg.Enabled {
		s.logger.Info("job scheduler disabled")
		return
	}

	s.logger.Info("job scheduler starting",
		"routines", len(s.order),
		"concurrency", s.cfg.Concurrency,
		"maxAttempts", s.cfg.MaxAttempts,
		"pollInterval", s.cfg.PollInterval.String())

	sem := make(chan struct{}, max(s.cfg.Concurrency, 1))
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.Tick(ctx, sem)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("job scheduler shutting down, waiting for routines to finish")
			s.wg.Wait()
			s.logger.Info("job scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, sem)
		}
	}
}

// Tick reclaims stale runs and starts every routine whose current period
// this process has not handled yet. sem bounds concurrent routines.
func (s *Scheduler) Tick(ctx context.Context, sem chan struct{}) {
	now := s.now()
	if s.cfg.ClaimTimeout > 0 {
		reclaimed, err := s.store.ReclaimStale(ctx, now.UTC().Add(-s.cfg.ClaimTimeout), now.UTC())
		if err != nil {
			s.logger.Error("failed to reclaim stale runs", "error", err)
		} else if reclaimed > 0 {
			s.logger.Warn("reclaimed stale runs", "count", reclaimed)
		}
	}

	for _, name := range s.order {
		r := s.routines[name]
		period := now.UTC().Truncate(r.Every)
		if !s.due(name, period) {
			continue
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			run, _, err := s.RunOnce(ctx, name, now)
			if err == nil && run != nil && run.State == RunStateSucceeded {
				s.markDone(name, period)
			}
		}()
	}
}

// Wait blocks until routines started by Tick have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) due(name string, period time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.done[name]
	return !ok || last.Before(period)
}

func (s *Scheduler) markDone(name string, period time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[name] = period
}

// HistoryRetention is the job_history_retention routine: it deletes
// finished runs older than days.
func HistoryRetention(store *RunStore, days int, every time.Duration) Routine {
	return Routine{
		Name:  "job_history_retention",
		Every: every,
		Handler: func(ctx context.Context, now time.Time) (map[string]any, error) {
			if days <= 0 {
				return map[string]any{"deleted": 0}, nil
			}
			deleted, err := store.DeleteOlderThan(ctx, now.AddDate(0, 0, -days))
			if err != nil {
				return nil, err
			}
			return map[string]any{"deleted": deleted}, nil
		},
	}
}

package main

import (
	"context"
	"time"

	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/detect"
	"github.com/archivum/docflow/pkg/jobs"
)

// routines lists the scheduled maintenance work of a docflow process.
func (a *app) routines() []jobs.Routine {
	sweeper := audit.NewRetentionSweeper(a.audit, a.cfg.Audit.RetentionDays, a.logger)

	return []jobs.Routine{
		{
			Name:    "detect_access_anomalies",
			Every:   a.cfg.Detect.ScanInterval(a.rulesOf(detect.KindAccess)),
			Handler: a.detectKind(detect.KindAccess),
		},
		{
			Name:    "detect_download_anomalies",
			Every:   a.cfg.Detect.ScanInterval(a.rulesOf(detect.KindDownload)),
			Handler: a.detectKind(detect.KindDownload),
		},
		{
			Name:  "expire_requests",
			Every: time.Hour,
			Handler: func(ctx context.Context, now time.Time) (map[string]any, error) {
				report, err := a.access.Expire(ctx, now)
				if err != nil {
					return nil, err
				}
				return map[string]any{"expired": report.Expired}, nil
			},
		},
		{
			Name:  "advance_reminders",
			Every: time.Hour,
			Handler: func(ctx context.Context, now time.Time) (map[string]any, error) {
				report, err := a.steps.RemindPending(ctx, now)
				if err != nil {
					return nil, err
				}
				return map[string]any{"documents": report.Documents, "reminded": report.Reminded}, nil
			},
		},
		{
			Name:  "cleanup_alerts",
			Every: 24 * time.Hour,
			Handler: func(ctx context.Context, now time.Time) (map[string]any, error) {
				days := a.cfg.Detect.RetentionDays
				if days <= 0 {
					return map[string]any{"deleted": 0}, nil
				}
				deleted, err := a.alerts.DeleteResolvedBefore(ctx, now.AddDate(0, 0, -days))
				if err != nil {
					return nil, err
				}
				return map[string]any{"deleted": deleted}, nil
			},
		},
		{
			Name:  "audit_retention",
			Every: 24 * time.Hour,
			Handler: func(ctx context.Context, now time.Time) (map[string]any, error) {
				deleted, err := sweeper.Sweep(ctx, now)
				if err != nil {
					return nil, err
				}
				return map[string]any{"deleted": deleted}, nil
			},
		},
		jobs.HistoryRetention(a.runs, a.cfg.Jobs.RetentionDays, 24*time.Hour),
	}
}

func (a *app) rulesOf(kind detect.AlertKind) []detect.Rule {
	var out []detect.Rule
	for _, r := range a.detector.Rules() {
		if r.Kind() == kind {
			out = append(out, r)
		}
	}
	return out
}

func (a *app) detectKind(kind detect.AlertKind) jobs.Handler {
	return func(ctx context.Context, now time.Time) (map[string]any, error) {
		report, err := a.detector.RunKind(ctx, kind, now)
		if report == nil {
			return nil, err
		}
		summary := map[string]any{
			"rules":      report.Rules,
			"findings":   report.Findings,
			"created":    len(report.Created),
			"duplicates": report.Duplicates,
		}
		if len(report.Failed) > 0 {
			summary["failed"] = report.Failed
		}
		return summary, err
	}
}

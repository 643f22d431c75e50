package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/archivum/docflow/pkg/notify"
)

// ReminderReport summarises one RemindPending pass.
type ReminderReport struct {
	Documents int `json:"documents"`
	Reminded  int `json:"reminded"`
}

// RemindPending advances every in-review chain, then reminds the approvers
// of active steps that have waited longer than ReminderAfter. A step is
// reminded at most once per ReminderEvery, so re-running a pass for the
// same period sends nothing new.
func (e *StepEngine) RemindPending(ctx context.Context, now time.Time) (*ReminderReport, error) {
	now = now.UTC()
	var ids []string
	if err := e.db.WithContext(ctx).Model(&DocumentRecord{}).
		Where("approval_status = ?", ApprovalInReview).
		Order("id").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list documents in review: %w", err)
	}

	report := &ReminderReport{Documents: len(ids)}
	var errs *multierror.Error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.Advance(ctx, id); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("advance %s: %w", id, err))
			continue
		}
		sent, err := e.remind(ctx, id, now)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remind %s: %w", id, err))
			continue
		}
		if sent {
			report.Reminded++
		}
	}
	return report, errs.ErrorOrNil()
}

func (e *StepEngine) remind(ctx context.Context, documentID string, now time.Time) (bool, error) {
	db := e.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return false, err
	}
	if doc.ApprovalStatus != ApprovalInReview {
		return false, nil
	}
	steps, err := loadSteps(db, doc.ID, doc.WorkflowRound)
	if err != nil {
		return false, err
	}
	step := activeStep(steps)
	if step == nil || step.AutoApproval {
		return false, nil
	}
	if now.Sub(activeSince(steps, step)) < e.opts.cfg.ReminderAfter {
		return false, nil
	}
	if step.LastRemindedAt != nil && now.Sub(*step.LastRemindedAt) < e.opts.cfg.ReminderEvery {
		return false, nil
	}

	// Claim the reminder before sending so concurrent passes send it once.
	res := db.Model(&StepRecord{}).
		Where("id = ? AND (last_reminded_at IS NULL OR last_reminded_at <= ?)", step.ID, now.Add(-e.opts.cfg.ReminderEvery)).
		Update("last_reminded_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("stamp reminder: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	to, err := e.opts.directory.ForRole(ctx, step.RequiredRole)
	if err != nil {
		e.opts.logger.Warn("failed to resolve approvers for reminder", "role", step.RequiredRole, "error", err)
		return true, nil
	}
	if len(to) > 0 {
		e.opts.notifier.Notify(ctx, notify.Message{
			Kind:    "step_reminder",
			To:      to,
			Subject: fmt.Sprintf("Reminder: %q is waiting for approval", doc.Title),
			Body: fmt.Sprintf("Step %q of %q has been waiting since %s.",
				step.Name, doc.Title, activeSince(steps, step).Format(time.RFC1123)),
		})
		e.opts.metrics.NotificationQueued("step_reminder")
	}
	return true, nil
}

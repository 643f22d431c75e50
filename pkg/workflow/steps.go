package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/notify"
)

// StepSpec describes one step of a chain to start.
type StepSpec struct {
	Name         string     `json:"name"`
	RequiredRole authz.Role `json:"requiredRole"`
	AutoApproval bool       `json:"autoApproval"`
}

// DefaultFlow returns the stock three-step chain.
func DefaultFlow() []StepSpec {
	return []StepSpec{
		{Name: "Quality Check", RequiredRole: authz.RoleAdmin},
		{Name: "Manager Validation", RequiredRole: authz.RoleManager},
		{Name: "CEO Approval", RequiredRole: authz.RoleCEO},
	}
}

// StepEngine drives the sequential approval chain of each document.
type StepEngine struct {
	db    *gorm.DB
	audit *audit.Store
	opts  *options
}

// NewStepEngine creates a new StepEngine.
func NewStepEngine(db *gorm.DB, auditStore *audit.Store, opts ...Option) *StepEngine {
	return &StepEngine{db: db, audit: auditStore, opts: buildOptions(opts)}
}

// activeStep returns the first step that is neither approved nor rejected,
// or nil when the chain is finished. A rejected step ends the chain.
func activeStep(steps []StepRecord) *StepRecord {
	for i := range steps {
		switch steps[i].Status {
		case StepApproved:
			continue
		case StepRejected:
			return nil
		default:
			return &steps[i]
		}
	}
	return nil
}

func allApproved(steps []StepRecord) bool {
	for _, s := range steps {
		if s.Status != StepApproved {
			return false
		}
	}
	return len(steps) > 0
}

// StartWorkflow opens a new approval round for a document with the given
// chain and auto-approves its leading auto steps.
func (e *StepEngine) StartWorkflow(ctx context.Context, documentID string, specs []StepSpec, actor authz.Actor) ([]StepRecord, error) {
	if len(specs) == 0 {
		return nil, apperr.Validation("at least one step is required")
	}
	for i, sp := range specs {
		if strings.TrimSpace(sp.Name) == "" {
			return nil, apperr.Validation("step %d has no name", i+1)
		}
	}

	now := e.opts.now()
	var round int
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID)
		if err != nil {
			return err
		}
		if doc.ApprovalStatus == ApprovalInReview {
			return apperr.Conflict("document %s already has an approval chain in progress", doc.ID)
		}
		if doc.ActiveVersionID == "" {
			return apperr.InvalidState("document %s has no version to review", doc.ID)
		}
		round = doc.WorkflowRound + 1
		if err := bumpRevision(tx, doc, map[string]any{
			"workflow_round":  round,
			"approval_status": ApprovalInReview,
			"admin_approved":  false,
			"ceo_approved":    false,
		}, now); err != nil {
			return err
		}

		names := make([]string, 0, len(specs))
		for i, sp := range specs {
			step := &StepRecord{
				ID:           uuid.New().String(),
				DocumentID:   doc.ID,
				Round:        round,
				Position:     i + 1,
				Name:         strings.TrimSpace(sp.Name),
				RequiredRole: string(sp.RequiredRole),
				Status:       StepPending,
				AutoApproval: sp.AutoApproval,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Create(step).Error; err != nil {
				return fmt.Errorf("create approval step: %w", err)
			}
			names = append(names, step.Name)
		}

		return e.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventWorkflowStarted,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: doc.ID,
			EntityType: "document",
			EntityID:   doc.ID,
			Action:     "start_workflow",
			NewValue:   dbtypes.Map{"round": round, "steps": names},
		})
	})
	if err != nil {
		return nil, err
	}

	if err := e.Advance(ctx, documentID); err != nil {
		e.opts.logger.Warn("failed to advance new approval chain", "documentID", documentID, "error", err)
	}
	e.notifyProgress(ctx, documentID, nil)
	return e.Steps(ctx, documentID)
}

// Steps returns the steps of the document's current round in chain order.
func (e *StepEngine) Steps(ctx context.Context, documentID string) ([]StepRecord, error) {
	db := e.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return nil, err
	}
	return loadSteps(db, doc.ID, doc.WorkflowRound)
}

// ListSteps returns the steps of the current round the viewer may see.
func (e *StepEngine) ListSteps(ctx context.Context, documentID string, viewer authz.Actor) ([]StepView, error) {
	steps, err := e.Steps(ctx, documentID)
	if err != nil {
		return nil, err
	}
	views := ProjectVisibility(steps, viewer.Role, e.opts.overrides)
	visible := views[:0]
	for _, v := range views {
		if v.Access != StepHidden {
			visible = append(visible, v)
		}
	}
	return visible, nil
}

// GetStep returns one step.
func (e *StepEngine) GetStep(ctx context.Context, stepID string) (*StepRecord, error) {
	return loadStep(e.db.WithContext(ctx), stepID)
}

// Advance auto-approves the active step for as long as it is an auto step,
// and closes the chain once every step is approved. An auto-approval hook
// error leaves the step pending for manual handling.
func (e *StepEngine) Advance(ctx context.Context, documentID string) error {
	for {
		db := e.db.WithContext(ctx)
		doc, err := loadDocument(db, documentID)
		if err != nil {
			return err
		}
		if doc.ApprovalStatus != ApprovalInReview {
			return nil
		}
		steps, err := loadSteps(db, doc.ID, doc.WorkflowRound)
		if err != nil {
			return err
		}
		active := activeStep(steps)
		if active == nil {
			if !allApproved(steps) {
				return nil
			}
			return e.finish(ctx, doc)
		}
		if !active.AutoApproval {
			return nil
		}

		note, hookErr := e.opts.auto.AutoApprove(ctx, *doc, *active)
		if hookErr != nil {
			e.autoFailed(ctx, doc, active, hookErr)
			return nil
		}
		err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return e.resolve(ctx, tx, doc, steps, active, transition{
				status: StepApproved,
				method: MethodAuto,
				actor:  authz.SystemActor(),
				note:   note,
			})
		})
		if err != nil {
			return err
		}
		e.opts.metrics.StepTransition(string(StepApproved), string(MethodAuto))
	}
}

// ApproveStep approves the active step and advances the chain.
func (e *StepEngine) ApproveStep(ctx context.Context, stepID string, actor authz.Actor, note string) (*StepRecord, error) {
	return e.act(ctx, stepID, actor, StepApproved, note)
}

// RejectStep rejects the active step, which ends the chain.
func (e *StepEngine) RejectStep(ctx context.Context, stepID string, actor authz.Actor, reason string) (*StepRecord, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("a rejection reason is required")
	}
	return e.act(ctx, stepID, actor, StepRejected, reason)
}

// CommentStep records a comment on the active step. The step stays active.
func (e *StepEngine) CommentStep(ctx context.Context, stepID string, actor authz.Actor, comment string) (*StepRecord, error) {
	if strings.TrimSpace(comment) == "" {
		return nil, apperr.Validation("comment is required")
	}
	return e.act(ctx, stepID, actor, StepCommented, comment)
}

func (e *StepEngine) act(ctx context.Context, stepID string, actor authz.Actor, status StepStatus, note string) (*StepRecord, error) {
	db := e.db.WithContext(ctx)
	step, err := loadStep(db, stepID)
	if err != nil {
		return nil, err
	}
	doc, err := loadDocument(db, step.DocumentID)
	if err != nil {
		return nil, err
	}
	steps, err := loadSteps(db, doc.ID, step.Round)
	if err != nil {
		return nil, err
	}
	active := activeStep(steps)
	if step.Round != doc.WorkflowRound || doc.ApprovalStatus != ApprovalInReview || active == nil || active.ID != step.ID {
		return nil, apperr.InvalidStepState("step %q is not the active step", step.Name)
	}
	if !authz.Capable(actor.Role, authz.Role(step.RequiredRole), e.opts.overrides) {
		return nil, apperr.Unauthorized("step %q requires role %s", step.Name, step.RequiredRole)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return e.resolve(ctx, tx, doc, steps, active, transition{
			status: status,
			method: MethodManual,
			actor:  actor,
			note:   note,
		})
	})
	if err != nil {
		return nil, err
	}
	e.opts.metrics.StepTransition(string(status), string(MethodManual))

	if status == StepApproved {
		if err := e.Advance(ctx, doc.ID); err != nil {
			e.opts.logger.Warn("failed to advance approval chain", "documentID", doc.ID, "error", err)
		}
	}
	e.notifyProgress(ctx, doc.ID, &transition{status: status, actor: actor, note: note, step: step.Name})
	return loadStep(db, stepID)
}

type transition struct {
	status StepStatus
	method ResolutionMethod
	actor  authz.Actor
	note   string
	step   string
}

// resolve applies a transition to the active step inside tx. The step update
// is conditional on the step still being open and the document revision
// bump is conditional on the revision read before the transaction, so two
// racing actions on one document cannot both commit.
func (e *StepEngine) resolve(ctx context.Context, tx *gorm.DB, doc *DocumentRecord, steps []StepRecord, step *StepRecord, t transition) error {
	now := e.opts.now()
	updates := map[string]any{
		"status":     t.status,
		"method":     t.method,
		"actor_id":   t.actor.ID,
		"note":       t.note,
		"updated_at": now,
	}
	if t.status.IsTerminal() {
		updates["resolved_at"] = now
	}
	res := tx.Model(&StepRecord{}).
		Where("id = ? AND status IN ?", step.ID, []StepStatus{StepPending, StepCommented}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update approval step: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Conflict("step %q was resolved concurrently", step.Name)
	}

	docUpdates := map[string]any{}
	finished := ApprovalStatus("")
	switch t.status {
	case StepApproved:
		switch authz.Role(step.RequiredRole) {
		case authz.RoleAdmin:
			docUpdates["admin_approved"] = true
		case authz.RoleCEO:
			docUpdates["ceo_approved"] = true
		}
		remaining := 0
		for _, s := range steps {
			if s.ID != step.ID && s.Status != StepApproved {
				remaining++
			}
		}
		if remaining == 0 {
			finished = ApprovalApproved
		}
	case StepRejected:
		finished = ApprovalRejected
	}
	if finished != "" {
		docUpdates["approval_status"] = finished
	}
	if err := bumpRevision(tx, doc, docUpdates, now); err != nil {
		return err
	}

	eventType := audit.EventStepCommented
	switch t.status {
	case StepApproved:
		eventType = audit.EventStepApproved
	case StepRejected:
		eventType = audit.EventStepRejected
	}
	aud := e.audit.WithTx(tx)
	if err := aud.Append(ctx, &audit.EventRecord{
		EventType:  eventType,
		Actor:      t.actor.ID,
		ActorRole:  string(t.actor.Role),
		DocumentID: doc.ID,
		EntityType: "approval_step",
		EntityID:   step.ID,
		Action:     string(t.status),
		Reason:     t.note,
		OldValue:   dbtypes.Map{"status": string(step.Status)},
		NewValue:   dbtypes.Map{"status": string(t.status), "method": string(t.method)},
		Metadata:   dbtypes.Map{"step": step.Name, "position": step.Position, "round": step.Round},
	}); err != nil {
		return err
	}
	if finished == "" {
		return nil
	}
	return aud.Append(ctx, &audit.EventRecord{
		EventType:  audit.EventWorkflowFinished,
		Actor:      t.actor.ID,
		ActorRole:  string(t.actor.Role),
		DocumentID: doc.ID,
		EntityType: "document",
		EntityID:   doc.ID,
		Action:     "finish_workflow",
		NewValue:   dbtypes.Map{"approvalStatus": string(finished), "round": step.Round},
	})
}

// finish closes a chain whose steps are all approved but whose document
// status was never updated.
func (e *StepEngine) finish(ctx context.Context, doc *DocumentRecord) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := bumpRevision(tx, doc, map[string]any{"approval_status": ApprovalApproved}, e.opts.now()); err != nil {
			return err
		}
		return e.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventWorkflowFinished,
			Actor:      authz.SystemActor().ID,
			DocumentID: doc.ID,
			EntityType: "document",
			EntityID:   doc.ID,
			Action:     "finish_workflow",
			NewValue:   dbtypes.Map{"approvalStatus": string(ApprovalApproved), "round": doc.WorkflowRound},
		})
	})
}

func (e *StepEngine) autoFailed(ctx context.Context, doc *DocumentRecord, step *StepRecord, hookErr error) {
	e.opts.logger.Warn("auto-approval failed, step left for manual handling",
		"documentID", doc.ID, "step", step.Name, "error", hookErr)
	e.opts.metrics.StepTransition("auto_failed", string(MethodAuto))
	err := e.audit.Append(ctx, &audit.EventRecord{
		EventType:  audit.EventStepAutoFailed,
		Actor:      authz.SystemActor().ID,
		DocumentID: doc.ID,
		EntityType: "approval_step",
		EntityID:   step.ID,
		Action:     "auto_approve",
		Outcome:    audit.OutcomeFailure,
		Reason:     hookErr.Error(),
	})
	if err != nil {
		e.opts.logger.Warn("failed to audit auto-approval failure", "stepID", step.ID, "error", err)
	}
}

// notifyProgress tells the owner about the outcome and the next approver
// that a step is waiting. Delivery is best-effort.
func (e *StepEngine) notifyProgress(ctx context.Context, documentID string, t *transition) {
	db := e.db.WithContext(ctx)
	doc, err := loadDocument(db, documentID)
	if err != nil {
		return
	}
	send := func(kind string, to []string, subject, body string) {
		if len(to) == 0 {
			return
		}
		e.opts.notifier.Notify(ctx, notify.Message{Kind: kind, To: to, Subject: subject, Body: body})
		e.opts.metrics.NotificationQueued(kind)
	}
	owner, err := e.opts.directory.ForUser(ctx, doc.OwnerID)
	if err != nil {
		e.opts.logger.Warn("failed to resolve document owner", "documentID", doc.ID, "error", err)
	}

	switch {
	case doc.ApprovalStatus == ApprovalApproved || doc.ApprovalStatus == ApprovalRejected:
		body := fmt.Sprintf("The approval chain of %q finished: %s.", doc.Title, doc.ApprovalStatus)
		if t != nil && t.status == StepRejected {
			body += fmt.Sprintf("\n\nStep %q was rejected by %s: %s", t.step, t.actor.ID, t.note)
		}
		send("workflow_finished", owner, fmt.Sprintf("%q %s", doc.Title, doc.ApprovalStatus), body)
		return
	case t != nil && t.status == StepCommented:
		send("step_commented", owner, fmt.Sprintf("Comment on %q", doc.Title),
			fmt.Sprintf("%s commented on step %q: %s", t.actor.ID, t.step, t.note))
		return
	}

	steps, err := loadSteps(db, doc.ID, doc.WorkflowRound)
	if err != nil {
		return
	}
	active := activeStep(steps)
	if active == nil || active.AutoApproval {
		return
	}
	to, err := e.opts.directory.ForRole(ctx, active.RequiredRole)
	if err != nil {
		e.opts.logger.Warn("failed to resolve approvers", "role", active.RequiredRole, "error", err)
		return
	}
	send("step_pending", to, fmt.Sprintf("Approval needed: %q", doc.Title),
		fmt.Sprintf("Step %q of %q is waiting for a %s.", active.Name, doc.Title, active.RequiredRole))
}

func loadStep(db *gorm.DB, id string) (*StepRecord, error) {
	var step StepRecord
	err := db.First(&step, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("approval step %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get approval step: %w", err)
	}
	return &step, nil
}

func loadSteps(db *gorm.DB, documentID string, round int) ([]StepRecord, error) {
	var steps []StepRecord
	err := db.Where("document_id = ? AND round = ?", documentID, round).
		Order("position ASC").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("list approval steps: %w", err)
	}
	return steps, nil
}

// activeSince is when step became the active step.
func activeSince(steps []StepRecord, step *StepRecord) time.Time {
	since := step.CreatedAt
	for _, s := range steps {
		if s.Position < step.Position && s.ResolvedAt != nil && s.ResolvedAt.After(since) {
			since = *s.ResolvedAt
		}
	}
	return since
}

package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
)

func startDefault(t *testing.T, env *testEnv) (*DocumentRecord, []StepRecord) {
	t.Helper()
	doc := env.createDocument(t, "Contract")
	env.upload(t, doc.ID, "v1")
	steps, err := env.steps.StartWorkflow(context.Background(), doc.ID, DefaultFlow(), owner)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	return doc, steps
}

func TestStartWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, steps := startDefault(t, env)

	for i, s := range steps {
		assert.Equal(t, i+1, s.Position)
		assert.Equal(t, StepPending, s.Status)
		assert.Equal(t, 1, s.Round)
	}
	d, err := env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalInReview, d.ApprovalStatus)

	_, err = env.steps.StartWorkflow(ctx, doc.ID, DefaultFlow(), owner)
	assert.ErrorIs(t, err, apperr.ErrConflict, "a chain is already in progress")

	msgs := env.notes.Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "step_pending", last.Kind)
	assert.Equal(t, []string{"admin@acme.test"}, last.To)
}

func TestStartWorkflow_RequiresVersionAndSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.createDocument(t, "Empty")

	_, err := env.steps.StartWorkflow(ctx, doc.ID, DefaultFlow(), owner)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = env.steps.StartWorkflow(ctx, doc.ID, nil, owner)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = env.steps.StartWorkflow(ctx, doc.ID, []StepSpec{{Name: " "}}, owner)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApproveStep_InOrderOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	_, err := env.steps.ApproveStep(ctx, steps[1].ID, manager, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStepState)

	got, err := env.steps.GetStep(ctx, steps[1].ID)
	require.NoError(t, err)
	assert.Equal(t, StepPending, got.Status)
}

func TestApproveStep_ChecksOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	_, err := env.steps.ApproveStep(ctx, "missing", admin, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// Not active and wrong role: the step state is reported first.
	_, err = env.steps.ApproveStep(ctx, steps[2].ID, manager, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStepState)

	_, err = env.steps.ApproveStep(ctx, steps[0].ID, manager, "")
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestApproveStep_FullChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, steps := startDefault(t, env)

	approved, err := env.steps.ApproveStep(ctx, steps[0].ID, admin, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, StepApproved, approved.Status)
	assert.Equal(t, MethodManual, approved.Method)
	assert.Equal(t, admin.ID, approved.ActorID)
	require.NotNil(t, approved.ResolvedAt)

	_, err = env.steps.ApproveStep(ctx, steps[1].ID, manager, "")
	require.NoError(t, err)

	d, err := env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, d.AdminApproved)
	assert.False(t, d.CEOApproved)
	assert.Equal(t, ApprovalInReview, d.ApprovalStatus)

	_, err = env.steps.ApproveStep(ctx, steps[2].ID, ceo, "")
	require.NoError(t, err)

	d, err = env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, d.CEOApproved)
	assert.Equal(t, ApprovalApproved, d.ApprovalStatus)
	assert.Equal(t, int64(3), env.auditCount(t, doc.ID, audit.EventStepApproved))
	assert.Equal(t, int64(1), env.auditCount(t, doc.ID, audit.EventWorkflowFinished))

	msgs := env.notes.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "workflow_finished", last.Kind)
	assert.Equal(t, []string{"owner@acme.test"}, last.To)
}

func TestApproveStep_AdminOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	_, err := env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	require.NoError(t, err)
	_, err = env.steps.ApproveStep(ctx, steps[1].ID, admin, "")
	require.NoError(t, err, "admin may act for the manager step")
}

func TestApproveStep_SecondApprovalLoses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	_, err := env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	require.NoError(t, err)
	_, err = env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStepState)
}

func TestResolve_StaleRevisionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, steps := startDefault(t, env)

	stale, err := env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	_, err = env.steps.CommentStep(ctx, steps[0].ID, admin, "please fix page 2")
	require.NoError(t, err)

	err = env.db.Transaction(func(tx *gorm.DB) error {
		return env.steps.resolve(ctx, tx, stale, steps, &steps[0], transition{
			status: StepApproved, method: MethodManual, actor: admin,
		})
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := env.steps.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StepCommented, got.Status, "the losing transition is rolled back")
}

func TestRejectStep_EndsChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, steps := startDefault(t, env)

	_, err := env.steps.RejectStep(ctx, steps[0].ID, admin, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	rejected, err := env.steps.RejectStep(ctx, steps[0].ID, admin, "wrong template")
	require.NoError(t, err)
	assert.Equal(t, StepRejected, rejected.Status)
	assert.Equal(t, "wrong template", rejected.Note)

	d, err := env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalRejected, d.ApprovalStatus)

	all, err := env.steps.Steps(ctx, doc.ID)
	require.NoError(t, err)
	assert.Nil(t, activeStep(all))

	_, err = env.steps.ApproveStep(ctx, steps[1].ID, manager, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStepState)

	// A rejected document can be resubmitted in a new round.
	env.upload(t, doc.ID, "v2")
	round2, err := env.steps.StartWorkflow(ctx, doc.ID, DefaultFlow(), owner)
	require.NoError(t, err)
	assert.Equal(t, 2, round2[0].Round)
	_, err = env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidStepState, "steps of an old round are closed")
}

func TestCommentStep_StaysActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	commented, err := env.steps.CommentStep(ctx, steps[0].ID, admin, "see margin notes")
	require.NoError(t, err)
	assert.Equal(t, StepCommented, commented.Status)
	assert.Nil(t, commented.ResolvedAt)

	_, err = env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	require.NoError(t, err, "a commented step is still the active step")
}

func TestAdvance_StopsAtManualStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.createDocument(t, "Policy")
	env.upload(t, doc.ID, "v1")

	steps, err := env.steps.StartWorkflow(ctx, doc.ID, []StepSpec{
		{Name: "Format check", RequiredRole: authz.RoleAdmin, AutoApproval: true},
		{Name: "Manager sign-off", RequiredRole: authz.RoleManager},
		{Name: "Archive", RequiredRole: authz.RoleAdmin, AutoApproval: true},
	}, owner)
	require.NoError(t, err)

	assert.Equal(t, StepApproved, steps[0].Status)
	assert.Equal(t, MethodAuto, steps[0].Method)
	assert.Equal(t, StepPending, steps[1].Status)
	assert.Equal(t, StepPending, steps[2].Status, "a later auto step is not touched")

	_, err = env.steps.ApproveStep(ctx, steps[1].ID, manager, "")
	require.NoError(t, err)

	all, err := env.steps.Steps(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StepApproved, all[2].Status)
	assert.Equal(t, MethodAuto, all[2].Method)

	d, err := env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, d.ApprovalStatus)
}

func TestAdvance_HookFailureHaltsChain(t *testing.T) {
	failing := AutoApproverFunc(func(context.Context, DocumentRecord, StepRecord) (string, error) {
		return "", errors.New("missing auto-approval metadata")
	})
	env := newTestEnv(t, WithAutoApprover(failing))
	ctx := context.Background()
	doc := env.createDocument(t, "Policy")
	env.upload(t, doc.ID, "v1")

	steps, err := env.steps.StartWorkflow(ctx, doc.ID, []StepSpec{
		{Name: "Format check", RequiredRole: authz.RoleAdmin, AutoApproval: true},
		{Name: "Manager sign-off", RequiredRole: authz.RoleManager},
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, StepPending, steps[0].Status)
	assert.Equal(t, int64(1), env.auditCount(t, doc.ID, audit.EventStepAutoFailed))

	require.NoError(t, env.steps.Advance(ctx, doc.ID))
	got, err := env.steps.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StepPending, got.Status)

	_, err = env.steps.ApproveStep(ctx, steps[0].ID, admin, "checked by hand")
	require.NoError(t, err, "a halted auto step can be resolved manually")
}

func TestListSteps_Projection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, steps := startDefault(t, env)
	_, err := env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	require.NoError(t, err)

	views, err := env.steps.ListSteps(ctx, doc.ID, manager)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, steps[1].ID, views[0].ID)
	assert.Equal(t, StepActionable, views[0].Access)

	views, err = env.steps.ListSteps(ctx, doc.ID, ceo)
	require.NoError(t, err)
	assert.Empty(t, views, "future steps are hidden")

	views, err = env.steps.ListSteps(ctx, doc.ID, admin)
	require.NoError(t, err)
	assert.Len(t, views, 3)
}

func TestCanRead_ApproverOfCurrentRound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc, err := env.docs.Create(ctx, DocumentInput{Title: "Board pack", Company: "acme", Visibility: VisibilityPrivate}, owner)
	require.NoError(t, err)
	env.upload(t, doc.ID, "v1")

	ok, err := env.docs.CanRead(ctx, ceo, doc)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.steps.StartWorkflow(ctx, doc.ID, DefaultFlow(), owner)
	require.NoError(t, err)
	doc, err = env.docs.Get(ctx, doc.ID)
	require.NoError(t, err)

	ok, err = env.docs.CanRead(ctx, ceo, doc)
	require.NoError(t, err)
	assert.True(t, ok)
}

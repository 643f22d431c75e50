package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivum/docflow/pkg/access"
	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
)

var reviewer = authz.Actor{ID: "u-admin", Role: authz.RoleAdmin}

func (env *testEnv) raiseBurst(t *testing.T, user string, at time.Time) *AlertRecord {
	t.Helper()
	for i := 0; i < 3; i++ {
		env.request(t, user, "doc-1", access.StatusPending, "", at.Add(-time.Minute))
	}
	d := env.detector(DefaultAccessRules(nil), WithClock(func() time.Time { return at }))
	report, err := d.Run(context.Background(), at)
	require.NoError(t, err)
	require.Len(t, report.Created, 1)
	a, err := env.alerts.Get(context.Background(), report.Created[0])
	require.NoError(t, err)
	return a
}

func TestAlertStore_ReviewAndResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.raiseBurst(t, "u1", t0)

	reviewed, err := env.alerts.Review(ctx, a.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, AlertReviewed, reviewed.Status)
	assert.Equal(t, reviewer.ID, reviewed.ReviewedBy)
	require.NotNil(t, reviewed.ReviewedAt)

	_, err = env.alerts.Review(ctx, a.ID, reviewer)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	resolved, err := env.alerts.Resolve(ctx, a.ID, reviewer, "expected quarter-end activity")
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, resolved.Status)
	assert.Equal(t, "expected quarter-end activity", resolved.ResolutionNote)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = env.alerts.Resolve(ctx, a.ID, reviewer, "")
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	var events []audit.EventRecord
	require.NoError(t, env.db.Where("event_type = ?", audit.EventAlertReviewed).Order("created_at").Find(&events).Error)
	require.Len(t, events, 2)
	assert.Equal(t, "reviewed", events[0].Action)
	assert.Equal(t, "resolved", events[1].Action)
	assert.Equal(t, reviewer.ID, events[1].Actor)
}

func TestAlertStore_ResolveNewAlert(t *testing.T) {
	env := newTestEnv(t)
	a := env.raiseBurst(t, "u1", t0)

	resolved, err := env.alerts.Resolve(context.Background(), a.ID, reviewer, "")
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, resolved.Status)
	assert.Equal(t, reviewer.ID, resolved.ReviewedBy)
}

func TestAlertStore_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.alerts.Get(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = env.alerts.Review(context.Background(), "missing", reviewer)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAlertStore_ListFiltersAndPages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.raiseBurst(t, "u1", t0)
	_ = env.raiseBurst(t, "u2", t0.Add(time.Hour))
	_, err := env.alerts.Review(ctx, first.ID, reviewer)
	require.NoError(t, err)

	items, next, total, err := env.alerts.List(ctx, AlertFilter{}, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 1)
	require.NotEmpty(t, next)

	items, next, _, err = env.alerts.List(ctx, AlertFilter{}, 1, next)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, next)

	items, _, total, err = env.alerts.List(ctx, AlertFilter{Status: AlertReviewed}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, first.ID, items[0].ID)

	_, _, total, err = env.alerts.List(ctx, AlertFilter{UserID: "u2", RuleID: RuleBurstPerResource}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestAlertStore_DeleteResolvedBefore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.raiseBurst(t, "u1", t0)
	open := env.raiseBurst(t, "u2", t0.Add(time.Hour))

	_, err := env.alerts.Resolve(ctx, old.ID, reviewer, "")
	require.NoError(t, err)

	deleted, err := env.alerts.DeleteResolvedBefore(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = env.alerts.Get(ctx, old.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = env.alerts.Get(ctx, open.ID)
	assert.NoError(t, err)
}

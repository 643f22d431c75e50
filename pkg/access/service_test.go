package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
)

func TestSubmit_NoMatchStaysPending(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)

	req := env.submit(t, colleague, doc.ID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Empty(t, req.PolicyID)
	require.NotNil(t, req.PendingKey)

	assert.Len(t, env.auditEvents(t, audit.EventAccessRequested), 1)
	assert.Empty(t, env.auditEvents(t, audit.EventAccessDecided))

	msgs := env.notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "access_requested", msgs[0].Kind)
	assert.ElementsMatch(t, []string{"ops@acme.test", "owner@acme.test"}, msgs[0].To)
}

func TestSubmit_SecondPendingConflicts(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)
	env.submit(t, colleague, doc.ID)

	_, err := env.service.Submit(context.Background(), SubmitInput{DocumentID: doc.ID, Requester: colleague})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	// A different requester is independent.
	env.submit(t, manager, doc.ID)
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)
	ctx := context.Background()

	_, err := env.service.Submit(ctx, SubmitInput{DocumentID: doc.ID})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.service.Submit(ctx, SubmitInput{Requester: colleague})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = env.service.Submit(ctx, SubmitInput{DocumentID: "missing", Requester: colleague})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSubmit_AutoApproveCreatesGrant(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)
	p := env.addPolicy(t, "same-department", ConditionExpression, `user_department == document_department`, ActionApprove, 10)

	req := env.submit(t, colleague, doc.ID)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, p.ID, req.PolicyID)
	assert.Equal(t, "system", req.DecidedBy)
	assert.Nil(t, req.PendingKey)
	require.NotNil(t, req.GrantExpiresAt)
	assert.Equal(t, env.clock.Now().Add(72*time.Hour), *req.GrantExpiresAt)

	ok, err := env.service.HasAccess(context.Background(), colleague.ID, doc.ID, env.clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	decided := env.auditEvents(t, audit.EventAccessDecided)
	require.Len(t, decided, 1)
	assert.Equal(t, p.ID, decided[0].PolicyID)
	assert.Equal(t, "same-department", decided[0].PolicyName)

	msgs := env.notes.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "access_decision", msgs[0].Kind)
	assert.Equal(t, []string{"colleague@acme.test"}, msgs[0].To)
}

func TestSubmit_FirstMatchingPolicyWins(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t, "hr")
	env.addPolicy(t, "same-company", ConditionHeuristic, "same company", ActionApprove, 20)
	deny := env.addPolicy(t, "hr-restricted", ConditionStructured,
		`{"field":"document_tags","operator":"contains","value":"hr"}`, ActionDeny, 10)

	req := env.submit(t, colleague, doc.ID)
	assert.Equal(t, StatusDenied, req.Status)
	assert.Equal(t, deny.ID, req.PolicyID)
	assert.Nil(t, req.GrantExpiresAt)

	var grants int64
	require.NoError(t, env.db.Model(&GrantRecord{}).Count(&grants).Error)
	assert.Zero(t, grants)
}

func TestSubmit_MalformedPolicyIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)
	broken := env.addPolicy(t, "broken", ConditionHeuristic, "guest", ActionDeny, 1)
	// Corrupt the stored condition behind the store's back.
	require.NoError(t, env.db.Model(&PolicyRecord{}).Where("id = ?", broken.ID).
		Updates(map[string]any{"condition_type": "structured", "condition": "{oops"}).Error)
	env.policies.invalidate()
	valid := env.addPolicy(t, "valid", ConditionExpression, `user_company == "acme"`, ActionApprove, 2)

	req := env.submit(t, colleague, doc.ID)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, valid.ID, req.PolicyID)
}

func TestSubmit_CooldownBlocks(t *testing.T) {
	env := newTestEnv(t)
	doc := env.createDocument(t)
	ctx := context.Background()
	require.NoError(t, env.cooldowns.ApplyCooldown(ctx, colleague.ID, env.clock.Now().Add(24*time.Hour), "repeated denials", "a1"))

	_, err := env.service.Submit(ctx, SubmitInput{DocumentID: doc.ID, Requester: colleague})
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	env.clock.Advance(25 * time.Hour)
	env.submit(t, colleague, doc.ID)
}

func TestSubmit_RateLimit(t *testing.T) {
	env := newTestEnv(t, WithConfig(&AccessConfig{DefaultGrant: time.Hour, MaxGrant: time.Hour, MaxRequestsPerDay: 2}))
	doc := env.createDocument(t)
	env.addPolicy(t, "deny-all", ConditionStructured, `{"field":"user_id","operator":"exists"}`, ActionDeny, 1)

	env.submit(t, colleague, doc.ID)
	env.submit(t, colleague, doc.ID)
	_, err := env.service.Submit(context.Background(), SubmitInput{DocumentID: doc.ID, Requester: colleague})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	env.clock.Advance(24 * time.Hour)
	env.submit(t, colleague, doc.ID)
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("admin approves with capped grant", func(t *testing.T) {
		env := newTestEnv(t)
		doc := env.createDocument(t)
		req := env.submit(t, colleague, doc.ID)

		got, err := env.service.Decide(ctx, req.ID, admin, ActionApprove, "ok", 365*24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, got.Status)
		assert.Equal(t, env.clock.Now().Add(90*24*time.Hour), *got.GrantExpiresAt)

		stored, err := env.service.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.PendingKey)
		assert.Equal(t, admin.ID, stored.DecidedBy)

		// The requester may ask again once nothing is pending.
		_, err = env.service.Submit(ctx, SubmitInput{DocumentID: doc.ID, Requester: colleague})
		require.NoError(t, err)
	})

	t.Run("owner denies", func(t *testing.T) {
		env := newTestEnv(t)
		doc := env.createDocument(t)
		req := env.submit(t, colleague, doc.ID)

		got, err := env.service.Decide(ctx, req.ID, docOwner, ActionDeny, "", 0)
		require.NoError(t, err)
		assert.Equal(t, StatusDenied, got.Status)
		assert.Equal(t, "manual decision", got.DecisionReason)
	})

	t.Run("check order", func(t *testing.T) {
		env := newTestEnv(t)
		doc := env.createDocument(t)
		req := env.submit(t, colleague, doc.ID)

		_, err := env.service.Decide(ctx, "missing", admin, ActionApprove, "", 0)
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

		_, err = env.service.Decide(ctx, req.ID, manager, ActionApprove, "", 0)
		assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

		_, err = env.service.Decide(ctx, req.ID, admin, "maybe", "", 0)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

		_, err = env.service.Decide(ctx, req.ID, admin, ActionDeny, "", 0)
		require.NoError(t, err)
		_, err = env.service.Decide(ctx, req.ID, admin, ActionApprove, "", 0)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
	})
}

func TestExpire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.createDocument(t)
	req := env.submit(t, colleague, doc.ID)
	_, err := env.service.Decide(ctx, req.ID, admin, ActionApprove, "", 2*time.Hour)
	require.NoError(t, err)

	report, err := env.service.Expire(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, report.Expired)

	later := env.clock.Now().Add(2 * time.Hour)
	report, err = env.service.Expire(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	report, err = env.service.Expire(ctx, later)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)

	stored, err := env.service.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, stored.Status)

	ok, err := env.service.HasAccess(ctx, colleague.ID, doc.ID, env.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok, "grant must be revoked")
	assert.Len(t, env.auditEvents(t, audit.EventAccessExpired), 1)
}

func TestTimestampsAreStoredInUTC(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cest := time.FixedZone("CEST", 2*60*60)
	env.clock.now = env.clock.now.In(cest)
	doc := env.createDocument(t)

	req := env.submit(t, colleague, doc.ID)
	assert.Equal(t, time.UTC, req.CreatedAt.Location())

	decided, err := env.service.Decide(ctx, req.ID, admin, ActionApprove, "", 2*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, decided.GrantExpiresAt)
	assert.Equal(t, time.UTC, decided.GrantExpiresAt.Location())

	at := env.clock.Now().UTC()
	var n int64
	require.NoError(t, env.db.Model(&RequestRecord{}).
		Where("created_at >= ? AND created_at < ?", at.Add(-time.Minute), at.Add(time.Minute)).
		Count(&n).Error)
	assert.Equal(t, int64(1), n)

	// Instants given in another zone compare by time, not by text.
	report, err := env.service.Expire(ctx, env.clock.Now().Add(time.Hour+59*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	report, err = env.service.Expire(ctx, env.clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
}

func TestStatsAndList(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.createDocument(t)

	a := env.submit(t, colleague, doc.ID)
	b := env.submit(t, manager, doc.ID)
	env.submit(t, stranger, doc.ID)
	_, err := env.service.Decide(ctx, a.ID, admin, ActionApprove, "", 0)
	require.NoError(t, err)
	_, err = env.service.Decide(ctx, b.ID, admin, ActionDeny, "", 0)
	require.NoError(t, err)

	st, err := env.service.Stats(ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Total)
	assert.Equal(t, int64(1), st.Pending)
	assert.Equal(t, int64(3), st.Today)
	assert.Equal(t, int64(3), st.Week)
	assert.InDelta(t, 0.5, st.ApprovalRate, 1e-9)

	items, _, total, err := env.service.ListRequests(ctx, RequestFilter{Status: StatusPending}, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, stranger.ID, items[0].RequesterID)
}

func TestSimulateHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.createDocument(t)
	p := env.addPolicy(t, "guests", ConditionHeuristic, "guest", ActionDeny, 1)

	d, ok, err := env.service.SimulateFor(ctx, stranger, doc.ID, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.ID, d.PolicyID)

	_, ok, err = env.service.SimulateFor(ctx, colleague, doc.ID, "")
	require.NoError(t, err)
	assert.False(t, ok)

	var n int64
	require.NoError(t, env.db.Model(&RequestRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCooldownStore_OnlyExtends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	require.NoError(t, env.cooldowns.Apply(ctx, "u1", now.Add(24*time.Hour), "first", "a1"))
	require.NoError(t, env.cooldowns.Apply(ctx, "u1", now.Add(time.Hour), "shorter", "a2"))
	cd, err := env.cooldowns.Active(ctx, "u1", now)
	require.NoError(t, err)
	require.NotNil(t, cd)
	assert.Equal(t, "a1", cd.AlertID)

	require.NoError(t, env.cooldowns.Apply(ctx, "u1", now.Add(48*time.Hour), "longer", "a3"))
	cd, err = env.cooldowns.Active(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, "a3", cd.AlertID)

	require.NoError(t, env.cooldowns.Lift(ctx, "u1"))
	cd, err = env.cooldowns.Active(ctx, "u1", now)
	require.NoError(t, err)
	assert.Nil(t, cd)
}

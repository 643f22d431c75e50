package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remindersSent(env *testEnv) int {
	n := 0
	for _, m := range env.notes.Messages() {
		if m.Kind == "step_reminder" {
			n++
		}
	}
	return n
}

func TestRemindPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	report, err := env.steps.RemindPending(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 0, report.Reminded, "too early")

	due := env.clock.Now().Add(49 * time.Hour)
	report, err = env.steps.RemindPending(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Equal(t, 1, remindersSent(env))

	report, err = env.steps.RemindPending(ctx, due.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reminded, "re-running in the same period sends nothing")

	report, err = env.steps.RemindPending(ctx, due.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reminded)
	assert.Equal(t, 2, remindersSent(env))

	got, err := env.steps.GetStep(ctx, steps[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRemindedAt)
}

func TestRemindPending_WaitsFromPreviousResolution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)

	env.clock.Advance(72 * time.Hour)
	_, err := env.steps.ApproveStep(ctx, steps[0].ID, admin, "")
	require.NoError(t, err)

	report, err := env.steps.RemindPending(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Reminded, "the manager step only just became active")
}

func TestRemindPending_SkipsFinishedChains(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, steps := startDefault(t, env)
	_, err := env.steps.RejectStep(ctx, steps[0].ID, admin, "no")
	require.NoError(t, err)

	report, err := env.steps.RemindPending(ctx, env.clock.Now().Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Documents)
}

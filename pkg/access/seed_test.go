package access

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivum/docflow/pkg/authz"
)

const seedV1 = `policies:
  - name: managers-same-department
    conditionType: expression
    condition: user_role == "manager" and user_department == document_department
    action: approve
    priority: 10
    active: true
  - name: no-guests
    conditionType: heuristic
    condition: deny guest users
    action: deny
    priority: 1
    active: true
  - name: draft
    condition: |
      {"field": "document_tags", "operator": "contains", "value": "hr"}
    action: deny
    priority: 5
`

func writeSeed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadSeedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policies.yaml")
	writeSeed(t, path, seedV1)

	file, version, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, file.Policies, 3)
	assert.Len(t, version, 64)
	assert.Equal(t, ConditionAuto, file.Policies[2].ConditionType)
	assert.False(t, file.Policies[2].Active)

	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "policies:\n  - name: x\n    condition: guest\n    action: deny\n    weight: 3\n"},
		{"bad condition", "policies:\n  - name: x\n    conditionType: structured\n    condition: '{'\n    action: deny\n"},
		{"duplicate name", "policies:\n  - {name: x, condition: guest, action: deny}\n  - {name: x, condition: guest, action: approve}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeSeed(t, path, tt.content)
			_, _, err := LoadSeedFile(path)
			assert.Error(t, err)
		})
	}

	_, _, err = LoadSeedFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestPolicyStore_SyncFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeSeed(t, path, seedV1)

	report, err := env.policies.SyncFile(ctx, path, authz.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Created)

	active, err := env.policies.ActivePolicies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "no-guests", active[0].Name)
	assert.Equal(t, "system", active[0].ApprovedBy)

	report, err = env.policies.SyncFile(ctx, path, authz.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unchanged)
	assert.Zero(t, report.Created+report.Updated)

	// Changing a condition re-approves the seeded policy; flipping active
	// alone only toggles activation.
	env.clock.Advance(time.Minute)
	v2 := strings.Replace(seedV1, "deny guest users", "nessun ospite", 1)
	v2 = strings.Replace(v2, "    priority: 5\n", "    priority: 5\n    active: true\n", 1)
	writeSeed(t, path, v2)

	report, err = env.policies.SyncFile(ctx, path, authz.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Updated)
	assert.Equal(t, 1, report.Unchanged)

	active, err = env.policies.ActivePolicies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, "nessun ospite", active[0].Condition)
}

func TestSeedWatcher_ResyncsOnChange(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "policies.yaml")
	writeSeed(t, path, seedV1)

	w := NewSeedWatcher(env.policies, path, nil)
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case report := <-w.Synced():
		assert.Equal(t, 3, report.Created)
	case <-time.After(5 * time.Second):
		t.Fatal("initial sync not reported")
	}

	writeSeed(t, path, seedV1+`  - name: extra
    condition: same company
    action: approve
    priority: 30
    active: true
`)
	select {
	case report := <-w.Synced():
		assert.Equal(t, 1, report.Created)
		assert.Equal(t, 3, report.Unchanged)
	case <-time.After(5 * time.Second):
		t.Fatal("change not reported")
	}

	cancel()
	require.NoError(t, <-done)
}

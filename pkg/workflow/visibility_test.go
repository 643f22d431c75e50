package workflow

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"

	"github.com/archivum/docflow/pkg/authz"
)

func TestProjectVisibility(t *testing.T) {
	steps := []StepRecord{
		{ID: "s1", Position: 1, RequiredRole: "admin", Status: StepApproved},
		{ID: "s2", Position: 2, RequiredRole: "manager", Status: StepCommented},
		{ID: "s3", Position: 3, RequiredRole: "ceo", Status: StepPending},
	}
	overrides := authz.DefaultOverrideRoles()

	tests := []struct {
		name string
		role authz.Role
		want []StepAccess
	}{
		{"admin overrides", authz.RoleAdmin, []StepAccess{StepReadOnly, StepActionable, StepReadOnly}},
		{"manager acts on active", authz.RoleManager, []StepAccess{StepHidden, StepActionable, StepHidden}},
		{"ceo waits", authz.RoleCEO, []StepAccess{StepHidden, StepHidden, StepHidden}},
		{"no role", "", []StepAccess{StepHidden, StepHidden, StepHidden}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views := ProjectVisibility(steps, tt.role, overrides)
			got := make([]StepAccess, len(views))
			for i, v := range views {
				got[i] = v.Access
			}
			assert.Equal(t, tt.want, got)
			assert.True(t, views[1].Active)
			assert.False(t, views[2].Active)
		})
	}
}

func TestProjectVisibility_PastStepOfOwnRole(t *testing.T) {
	steps := []StepRecord{
		{ID: "s1", RequiredRole: "manager", Status: StepApproved},
		{ID: "s2", RequiredRole: "ceo", Status: StepRejected},
		{ID: "s3", RequiredRole: "manager", Status: StepPending},
	}
	views := ProjectVisibility(steps, authz.RoleManager, mapset.NewSet[authz.Role]())

	assert.Equal(t, StepReadOnly, views[0].Access)
	assert.Equal(t, StepHidden, views[1].Access)
	assert.Equal(t, StepHidden, views[2].Access, "nothing is active after a rejection")
	for _, v := range views {
		assert.False(t, v.Active)
	}
}

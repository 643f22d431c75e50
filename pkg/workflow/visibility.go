package workflow

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/archivum/docflow/pkg/authz"
)

// StepAccess is what a viewer may do with a step.
type StepAccess string

const (
	StepHidden     StepAccess = "hidden"
	StepReadOnly   StepAccess = "read_only"
	StepActionable StepAccess = "actionable"
)

// StepView is a step projected for one viewer.
type StepView struct {
	StepRecord
	Active bool       `json:"active"`
	Access StepAccess `json:"access"`
}

// ProjectVisibility decides, for each step, whether a viewer with role may
// act on it, only read it, or not see it. The active step is actionable for
// capable viewers; resolved steps are readable by their role; override
// roles read everything. Future steps are never actionable.
func ProjectVisibility(steps []StepRecord, role authz.Role, overrides mapset.Set[authz.Role]) []StepView {
	active := activeStep(steps)
	override := authz.IsOverride(role, overrides)

	views := make([]StepView, len(steps))
	for i, s := range steps {
		v := StepView{StepRecord: s, Access: StepHidden}
		isActive := active != nil && active.ID == s.ID
		v.Active = isActive
		switch {
		case isActive && authz.Capable(role, authz.Role(s.RequiredRole), overrides):
			v.Access = StepActionable
		case override:
			v.Access = StepReadOnly
		case s.Status.IsTerminal() && role != "" && string(role) == s.RequiredRole:
			v.Access = StepReadOnly
		}
		views[i] = v
	}
	return views
}

package access

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/archivum/docflow/pkg/apperr"
)

// HeuristicRule is one entry of the free-text vocabulary.
type HeuristicRule string

const (
	RuleAdminRole      HeuristicRule = "admin_role"
	RuleSameCompany    HeuristicRule = "same_company"
	RuleSameDepartment HeuristicRule = "same_department"
	RuleConfidential   HeuristicRule = "confidential"
	RuleGuest          HeuristicRule = "guest"
)

// confidentialTags mark a document as confidential.
var confidentialTags = mapset.NewSet("confidential", "confidenziale")

type vocabularyEntry struct {
	rule HeuristicRule
	// every keyword group must occur; any phrase of a group satisfies it.
	groups [][]string
	match  func(RequestContext) bool
}

// vocabulary is checked in order; the first entry whose keywords all occur
// in the text decides what the condition means.
var vocabulary = []vocabularyEntry{
	{
		rule:   RuleAdminRole,
		groups: [][]string{{"admin"}, {"user_role", "role", "ruolo"}},
		match:  func(rc RequestContext) bool { return strings.EqualFold(rc.UserRole, "admin") },
	},
	{
		rule:   RuleSameCompany,
		groups: [][]string{{"same company", "stessa azienda"}},
		match: func(rc RequestContext) bool {
			return rc.UserCompany != "" && strings.EqualFold(rc.UserCompany, rc.DocumentCompany)
		},
	},
	{
		rule:   RuleSameDepartment,
		groups: [][]string{{"same department", "stesso reparto"}},
		match: func(rc RequestContext) bool {
			return rc.UserDepartment != "" && strings.EqualFold(rc.UserDepartment, rc.DocumentDepartment)
		},
	},
	{
		rule:   RuleConfidential,
		groups: [][]string{{"confidential", "confidenziale"}},
		match: func(rc RequestContext) bool {
			for _, t := range rc.DocumentTags {
				if confidentialTags.Contains(strings.ToLower(t)) {
					return true
				}
			}
			return false
		},
	},
	{
		rule:   RuleGuest,
		groups: [][]string{{"guest", "ospite"}},
		match:  func(rc RequestContext) bool { return strings.EqualFold(rc.UserRole, "guest") },
	},
}

// HeuristicCondition is a free-text condition resolved to one vocabulary
// rule when it was parsed.
type HeuristicCondition struct {
	Rule HeuristicRule
	Text string
	eval func(RequestContext) bool
}

func (*HeuristicCondition) sealed() {}

func (*HeuristicCondition) Dialect() ConditionType { return ConditionHeuristic }

func (c *HeuristicCondition) Matches(rc RequestContext) bool { return c.eval(rc) }

// parseHeuristic resolves text against the vocabulary. Text that matches no
// entry is rejected rather than silently never matching.
func parseHeuristic(text string) (*HeuristicCondition, error) {
	lower := strings.ToLower(text)
	for _, entry := range vocabulary {
		if entry.matches(lower) {
			return &HeuristicCondition{Rule: entry.rule, Text: text, eval: entry.match}, nil
		}
	}
	return nil, apperr.Validation("condition %q matches no known rule", text)
}

func (e vocabularyEntry) matches(lower string) bool {
	for _, group := range e.groups {
		found := false
		for _, phrase := range group {
			if strings.Contains(lower, phrase) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

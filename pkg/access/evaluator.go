package access

import (
	"log/slog"
	"sort"
	"time"

	"github.com/archivum/docflow/pkg/cache"
)

// Decision is the outcome of the policy that matched a request.
type Decision struct {
	PolicyID   string `json:"policyId"`
	PolicyName string `json:"policyName"`
	Action     Action `json:"action"`
	Priority   int    `json:"priority"`
	Dialect    string `json:"dialect"`
}

// Reason is the decision reason recorded on the request.
func (d Decision) Reason() string {
	return "automatic policy: " + d.PolicyName
}

// Evaluator applies policies to request contexts. Compiled conditions are
// cached by their type and text.
type Evaluator struct {
	logger   *slog.Logger
	compiled *cache.LRUCache[string, compiled]
}

type compiled struct {
	cond Condition
	err  error
}

// NewEvaluator creates an Evaluator. A nil cfg disables the compile cache.
func NewEvaluator(cfg *cache.CacheConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger}
	if cfg != nil && cfg.Enabled {
		e.compiled = cache.NewLRUCache[string, compiled](cfg.MaxSize, time.Hour)
	}
	return e
}

// SortPolicies orders policies by priority, then creation time, then id.
func SortPolicies(policies []PolicyRecord) {
	sort.SliceStable(policies, func(i, j int) bool {
		a, b := policies[i], policies[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Evaluate returns the decision of the first active policy whose condition
// matches rc, and false when none does. Policies whose condition does not
// compile are skipped with a warning.
func (e *Evaluator) Evaluate(rc RequestContext, policies []PolicyRecord) (Decision, bool) {
	ordered := append([]PolicyRecord(nil), policies...)
	SortPolicies(ordered)

	for _, p := range ordered {
		if !p.Active {
			continue
		}
		cond, err := e.compile(p)
		if err != nil {
			e.logger.Warn("skipping malformed access policy",
				"policyID", p.ID, "policy", p.Name, "error", err)
			continue
		}
		if !p.Action.Valid() {
			e.logger.Warn("skipping access policy with unknown action",
				"policyID", p.ID, "policy", p.Name, "action", p.Action)
			continue
		}
		if cond.Matches(rc) {
			return Decision{
				PolicyID:   p.ID,
				PolicyName: p.Name,
				Action:     p.Action,
				Priority:   p.Priority,
				Dialect:    string(cond.Dialect()),
			}, true
		}
	}
	return Decision{}, false
}

func (e *Evaluator) compile(p PolicyRecord) (Condition, error) {
	if e.compiled == nil {
		return ParseCondition(p.ConditionType, p.Condition)
	}
	key := string(p.ConditionType) + "\x00" + p.Condition
	c, _ := e.compiled.GetOrLoad(key, func() (compiled, error) {
		cond, err := ParseCondition(p.ConditionType, p.Condition)
		return compiled{cond: cond, err: err}, nil
	})
	return c.cond, c.err
}

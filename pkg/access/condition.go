package access

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/archivum/docflow/pkg/apperr"
)

// ConditionType is how a policy's condition text is written.
type ConditionType string

const (
	// ConditionStructured is a JSON predicate tree.
	ConditionStructured ConditionType = "structured"
	// ConditionExpression is the textual predicate syntax, for example
	// user_role == "admin" and document_tags contains "hr".
	ConditionExpression ConditionType = "expression"
	// ConditionHeuristic is free text matched against a fixed vocabulary.
	ConditionHeuristic ConditionType = "heuristic"
	// ConditionAuto tries structured, expression, then heuristic.
	ConditionAuto ConditionType = "auto"
)

// Condition is either a *StructuredCondition or a *HeuristicCondition.
type Condition interface {
	Matches(rc RequestContext) bool
	// Dialect is "structured" or "heuristic".
	Dialect() ConditionType
	sealed()
}

// Operator is a predicate comparison.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpFieldEquals Operator = "field_equals"
	OpExists      Operator = "exists"
)

// Predicate is a node of a structured condition: a composite (all, any,
// not) or a leaf comparing a context field.
type Predicate struct {
	All   []Predicate `json:"all,omitempty"`
	Any   []Predicate `json:"any,omitempty"`
	Not   *Predicate  `json:"not,omitempty"`
	Field string      `json:"field,omitempty"`
	Op    Operator    `json:"operator,omitempty"`
	Value any         `json:"value,omitempty"`

	// values is Value normalised to strings by validate.
	values []string
}

// StructuredCondition evaluates a validated predicate tree.
type StructuredCondition struct {
	Root Predicate
}

func (*StructuredCondition) sealed() {}

func (*StructuredCondition) Dialect() ConditionType { return ConditionStructured }

func (c *StructuredCondition) Matches(rc RequestContext) bool { return c.Root.eval(rc) }

// ParseCondition compiles condition text of the given type. It is the single
// place where dialects are told apart. "json" and "natural_language" are
// accepted as aliases of structured and heuristic.
func ParseCondition(typ ConditionType, text string) (Condition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Validation("condition is empty")
	}
	switch strings.ToLower(string(typ)) {
	case string(ConditionStructured), "json":
		return parseStructured(text)
	case string(ConditionExpression):
		return parseExpression(text)
	case string(ConditionHeuristic), "natural_language":
		return parseHeuristic(text)
	case string(ConditionAuto), "":
		if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
			return parseStructured(text)
		}
		if c, err := parseExpression(text); err == nil {
			return c, nil
		}
		return parseHeuristic(text)
	default:
		return nil, apperr.Validation("unknown condition type %q", typ)
	}
}

// parseStructured decodes a JSON predicate. A top-level array means all.
func parseStructured(text string) (*StructuredCondition, error) {
	var root Predicate
	data := []byte(text)
	if bytes.HasPrefix(data, []byte("[")) {
		var all []Predicate
		if err := decodeStrict(data, &all); err != nil {
			return nil, apperr.Validation("invalid condition JSON: %v", err)
		}
		root = Predicate{All: all}
	} else if err := decodeStrict(data, &root); err != nil {
		return nil, apperr.Validation("invalid condition JSON: %v", err)
	}
	if err := root.validate("$"); err != nil {
		return nil, err
	}
	return &StructuredCondition{Root: root}, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}

func (p *Predicate) validate(path string) error {
	kinds := 0
	if p.All != nil {
		kinds++
	}
	if p.Any != nil {
		kinds++
	}
	if p.Not != nil {
		kinds++
	}
	if p.Field != "" || p.Op != "" {
		kinds++
	}
	if kinds != 1 {
		return apperr.Validation("%s: exactly one of all, any, not or field is required", path)
	}

	switch {
	case p.All != nil || p.Any != nil:
		children, name := p.All, "all"
		if p.Any != nil {
			children, name = p.Any, "any"
		}
		if len(children) == 0 {
			return apperr.Validation("%s.%s is empty", path, name)
		}
		for i := range children {
			if err := children[i].validate(fmt.Sprintf("%s.%s[%d]", path, name, i)); err != nil {
				return err
			}
		}
		return nil
	case p.Not != nil:
		return p.Not.validate(path + ".not")
	}

	if _, ok := contextFields[p.Field]; !ok {
		return apperr.Validation("%s: unknown field %q", path, p.Field)
	}
	switch p.Op {
	case OpExists:
		if p.Value != nil {
			return apperr.Validation("%s: exists takes no value", path)
		}
		return nil
	case OpEquals, OpNotEquals, OpContains:
		s, ok := scalarString(p.Value)
		if !ok {
			return apperr.Validation("%s: %s needs a scalar value", path, p.Op)
		}
		p.values = []string{s}
	case OpIn, OpNotIn:
		list, ok := p.Value.([]any)
		if !ok || len(list) == 0 {
			return apperr.Validation("%s: %s needs a non-empty list", path, p.Op)
		}
		p.values = make([]string, len(list))
		for i, item := range list {
			s, ok := scalarString(item)
			if !ok {
				return apperr.Validation("%s: %s list items must be scalars", path, p.Op)
			}
			p.values[i] = s
		}
	case OpFieldEquals:
		other, ok := p.Value.(string)
		if !ok {
			return apperr.Validation("%s: field_equals needs a field name", path)
		}
		if _, ok := contextFields[other]; !ok {
			return apperr.Validation("%s: unknown field %q", path, other)
		}
		p.values = []string{other}
	default:
		return apperr.Validation("%s: unknown operator %q", path, p.Op)
	}
	return nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return fmt.Sprint(t), true
	case bool:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func containsFold(list []string, v string) bool {
	return slices.ContainsFunc(list, func(e string) bool { return strings.EqualFold(e, v) })
}

// eval compares case-insensitively. A list field equals a value when any
// element does.
func (p *Predicate) eval(rc RequestContext) bool {
	switch {
	case p.All != nil:
		for i := range p.All {
			if !p.All[i].eval(rc) {
				return false
			}
		}
		return true
	case p.Any != nil:
		for i := range p.Any {
			if p.Any[i].eval(rc) {
				return true
			}
		}
		return false
	case p.Not != nil:
		return !p.Not.eval(rc)
	}

	fv, ok := rc.field(p.Field)
	if !ok {
		return false
	}
	switch p.Op {
	case OpExists:
		return !fv.empty()
	case OpEquals:
		return containsFold(fv.values(), p.values[0])
	case OpNotEquals:
		return !containsFold(fv.values(), p.values[0])
	case OpContains:
		if fv.isList {
			return containsFold(fv.list, p.values[0])
		}
		return fv.scalar != "" && strings.Contains(strings.ToLower(fv.scalar), strings.ToLower(p.values[0]))
	case OpIn, OpNotIn:
		hit := false
		for _, v := range fv.values() {
			if v != "" && containsFold(p.values, v) {
				hit = true
				break
			}
		}
		return hit == (p.Op == OpIn)
	case OpFieldEquals:
		other, _ := rc.field(p.values[0])
		a, b := fv.values(), other.values()
		if fv.empty() || other.empty() || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !strings.EqualFold(a[i], b[i]) {
				return false
			}
		}
		return true
	}
	return false
}

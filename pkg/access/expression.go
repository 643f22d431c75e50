package access

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/archivum/docflow/pkg/apperr"
)

// Grammar of the expression dialect:
//
//	or      = and { "or" and }
//	and     = term { "and" term }
//	term    = "not" term | "(" or ")" | compare
//	compare = field op [ value ]
//	op      = "==" | "!=" | "contains" | "in" | "not_in" | "exists"
//	value   = string | number | "[" string { "," string } "]" | field
//
// A bare field on the right of == compares two fields. Keywords are lexed
// apart from identifiers so a field can never swallow "and" or "or".
type exprOr struct {
	And []*exprAnd `parser:"@@ ( 'or' @@ )*"`
}

type exprAnd struct {
	Terms []*exprTerm `parser:"@@ ( 'and' @@ )*"`
}

type exprTerm struct {
	Not     *exprTerm    `parser:"  'not' @@"`
	Group   *exprOr      `parser:"| '(' @@ ')'"`
	Compare *exprCompare `parser:"| @@"`
}

type exprCompare struct {
	Field string     `parser:"@Ident"`
	Op    string     `parser:"@( '==' | '!=' | 'contains' | 'in' | 'not_in' | 'exists' )"`
	Value *exprValue `parser:"@@?"`
}

type exprValue struct {
	String *string  `parser:"  @String"`
	Number *string  `parser:"| @Number"`
	List   []string `parser:"| '[' @String ( ',' @String )* ']'"`
	Field  *string  `parser:"| @Ident"`
}

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"])*"|'(?:\\.|[^'])*'`},
	{Name: "Number", Pattern: `[-+]?\d+(?:\.\d+)?`},
	{Name: "Keyword", Pattern: `\b(?i:not_in|and|or|not|contains|in|exists)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Operator", Pattern: `==|!=`},
	{Name: "Punct", Pattern: `[()\[\],]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var exprParser = participle.MustBuild[exprOr](
	participle.Lexer(exprLexer),
	participle.Unquote("String"),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword"),
)

// parseExpression compiles the textual dialect into a predicate tree, so
// both structured dialects evaluate the same way.
func parseExpression(text string) (*StructuredCondition, error) {
	ast, err := exprParser.ParseString("", text)
	if err != nil {
		return nil, apperr.Validation("invalid condition expression: %v", err)
	}
	root, err := ast.predicate()
	if err != nil {
		return nil, err
	}
	if err := root.validate("$"); err != nil {
		return nil, err
	}
	return &StructuredCondition{Root: root}, nil
}

func (e *exprOr) predicate() (Predicate, error) {
	if len(e.And) == 1 {
		return e.And[0].predicate()
	}
	alts := make([]Predicate, len(e.And))
	for i, a := range e.And {
		p, err := a.predicate()
		if err != nil {
			return Predicate{}, err
		}
		alts[i] = p
	}
	return Predicate{Any: alts}, nil
}

func (e *exprAnd) predicate() (Predicate, error) {
	if len(e.Terms) == 1 {
		return e.Terms[0].predicate()
	}
	all := make([]Predicate, len(e.Terms))
	for i, t := range e.Terms {
		p, err := t.predicate()
		if err != nil {
			return Predicate{}, err
		}
		all[i] = p
	}
	return Predicate{All: all}, nil
}

func (e *exprTerm) predicate() (Predicate, error) {
	switch {
	case e.Not != nil:
		inner, err := e.Not.predicate()
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Not: &inner}, nil
	case e.Group != nil:
		return e.Group.predicate()
	default:
		return e.Compare.predicate()
	}
}

func (c *exprCompare) predicate() (Predicate, error) {
	p := Predicate{Field: strings.ToLower(c.Field)}
	op := strings.ToLower(c.Op)
	if op == "exists" {
		if c.Value != nil {
			return Predicate{}, apperr.Validation("exists takes no value")
		}
		p.Op = OpExists
		return p, nil
	}
	if c.Value == nil {
		return Predicate{}, apperr.Validation("%s %s needs a value", c.Field, c.Op)
	}

	v := c.Value
	switch {
	case v.Field != nil:
		if op != "==" {
			return Predicate{}, apperr.Validation("only == compares two fields")
		}
		p.Op, p.Value = OpFieldEquals, strings.ToLower(*v.Field)
		return p, nil
	case v.List != nil:
		items := make([]any, len(v.List))
		for i, s := range v.List {
			items[i] = s
		}
		p.Value = items
	case v.String != nil:
		p.Value = *v.String
	case v.Number != nil:
		p.Value = *v.Number
	}

	switch op {
	case "==":
		p.Op = OpEquals
	case "!=":
		p.Op = OpNotEquals
	case "contains":
		p.Op = OpContains
	case "in":
		p.Op = OpIn
	case "not_in":
		p.Op = OpNotIn
	}
	return p, nil
}

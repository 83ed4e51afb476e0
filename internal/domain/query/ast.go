// Package query implements the constrained filter expression language used to
// narrow semantic searches, and its translation into canonical query
// parameters. Expressions are single function calls in a small DSL, e.g.
//
//	and(gte("created", "2025-03-01"), eq("from_email", "igor@mail.io"))
//
// Parsing and translation are pure and stateless; a Composer is safe for
// concurrent use across requests.
package query

import "fmt"

// Comparator is a comparison function name.
type Comparator string

const (
	CompEQ      Comparator = "eq"
	CompNE      Comparator = "ne"
	CompGT      Comparator = "gt"
	CompGTE     Comparator = "gte"
	CompLT      Comparator = "lt"
	CompLTE     Comparator = "lte"
	CompIn      Comparator = "in"
	CompNin     Comparator = "nin"
	CompContain Comparator = "contain"
	CompLike    Comparator = "like"
)

// Operator is a logical function name.
type Operator string

const (
	OpAnd Operator = "and"
	OpOr  Operator = "or"
	OpNot Operator = "not"
)

var comparators = map[string]Comparator{
	"eq": CompEQ, "ne": CompNE, "gt": CompGT, "gte": CompGTE,
	"lt": CompLT, "lte": CompLTE, "in": CompIn, "nin": CompNin,
	"contain": CompContain, "like": CompLike,
}

var operators = map[string]Operator{
	"and": OpAnd, "or": OpOr, "not": OpNot,
}

// Expr is a filter directive: either an Operation or a Comparison.
type Expr interface {
	isExpr()
}

// Operation is a logical operation over other directives.
type Operation struct {
	Operator  Operator
	Arguments []Expr
}

func (Operation) isExpr() {}

// Comparison compares an attribute to a value. Value is one of int64, float64,
// string, bool, Date, DateTime, or []any of those.
type Comparison struct {
	Comparator Comparator
	Attribute  string
	Value      any
}

func (Comparison) isExpr() {}

// Date is a tagged YYYY-MM-DD literal.
type Date struct {
	Raw string
}

// DateTime is a tagged ISO-8601 datetime literal (optional trailing Z).
type DateTime struct {
	Raw string
}

// ParseError reports malformed filter text.
type ParseError struct {
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Pos, e.Msg)
}

// ValidationError reports a disallowed function name or attribute.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

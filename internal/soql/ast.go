// Package soql parses and composes SOQL-style query text.
//
// The AST mirrors the shape query builders consume: WHERE and
// HAVING are a left-to-right chain of conditions joined by logical operators,
// with grouping expressed as open/close parenthesis counts on each condition
// rather than as an explicit tree.
package soql

import "strings"

// Query is a parsed SELECT statement. For a sub-select, From holds the child
// relationship name instead of an object name.
type Query struct {
	Fields               []Field
	From                 string
	Where                *WhereClause
	WithSecurityEnforced bool
	GroupBy              []GroupByClause
	Having               *WhereClause
	OrderBy              []OrderByClause
	Limit                *int
	Offset               *int
	For                  string
}

// Field is one entry of a SELECT list.
type Field interface {
	fieldNode()
}

// FieldName is a plain field on the queried object.
type FieldName struct {
	Name  string
	Alias string
}

// FieldRelationship is a dotted reference through one or more relationships,
// e.g. Owner.Manager.Name.
type FieldRelationship struct {
	Relationships []string
	Name          string
	Alias         string
}

// FieldFunction wraps a field in an aggregate, date, or format function.
type FieldFunction struct {
	Function string
	Args     []FunctionArg
	Alias    string
}

// FunctionArg is a single function argument. Exactly one member is set.
type FunctionArg struct {
	Field   string
	Literal string
	Nested  *FieldFunction
}

// FieldSubquery is a nested SELECT over a child relationship.
type FieldSubquery struct {
	Query *Query
}

// FieldTypeof is a TYPEOF block selecting per-type fields of a polymorphic
// relationship.
type FieldTypeof struct {
	Relationship string
	Conditions   []TypeofCondition
}

// TypeofCondition is one WHEN or ELSE branch of a TYPEOF block. ObjectType is
// empty for ELSE.
type TypeofCondition struct {
	Else       bool
	ObjectType string
	Fields     []string
}

func (FieldName) fieldNode()         {}
func (FieldRelationship) fieldNode() {}
func (FieldFunction) fieldNode()     {}
func (FieldSubquery) fieldNode()     {}
func (FieldTypeof) fieldNode()       {}

// Path returns the full dotted reference.
func (f FieldRelationship) Path() string {
	return strings.Join(append(append([]string{}, f.Relationships...), f.Name), ".")
}

// FieldArg returns the first field argument, if any.
func (f *FieldFunction) FieldArg() (string, bool) {
	if f == nil {
		return "", false
	}
	for _, arg := range f.Args {
		if arg.Field != "" {
			return arg.Field, true
		}
	}
	return "", false
}

// IsSimple reports whether the function wraps exactly one field and nothing else.
func (f *FieldFunction) IsSimple() bool {
	return f != nil && len(f.Args) == 1 && f.Args[0].Field != ""
}

// LogicalOperator joins conditions in a WHERE/HAVING chain.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
	LogicalNot LogicalOperator = "NOT"
)

// WhereClause is one link of a boolean expression chain.
//
// For a plain link, Left is the condition and Operator/Right continue the
// chain. For a negation wrapper, Operator is NOT, Left is nil or carries only
// the parentheses that preceded NOT, and Right.Left is the negated condition
// whose own Operator/Right continue the chain.
type WhereClause struct {
	Left     *Condition
	Operator LogicalOperator
	Right    *WhereClause
}

// IsNegation reports whether the link is a NOT wrapper.
func (w *WhereClause) IsNegation() bool {
	return w != nil && w.Operator == LogicalNot
}

// LiteralType classifies a condition value.
type LiteralType string

const (
	LiteralString       LiteralType = "STRING"
	LiteralInteger      LiteralType = "INTEGER"
	LiteralDecimal      LiteralType = "DECIMAL"
	LiteralBoolean      LiteralType = "BOOLEAN"
	LiteralNull         LiteralType = "NULL"
	LiteralDate         LiteralType = "DATE"
	LiteralDateTime     LiteralType = "DATETIME"
	LiteralDateLiteral  LiteralType = "DATE_LITERAL"
	LiteralDateNLiteral LiteralType = "DATE_N_LITERAL"
	LiteralSubquery     LiteralType = "SUBQUERY"
)

// Condition is a single comparison. Value and Values keep the literal text
// exactly as written, including quotes and escapes.
type Condition struct {
	OpenParen   int
	CloseParen  int
	Field       string
	Function    *FieldFunction
	Operator    string
	Value       string
	Values      []string
	LiteralType LiteralType
	Subquery    *Query
}

// HasComparison reports whether the condition carries an operator. A negation
// wrapper's Left only carries parentheses.
func (c *Condition) HasComparison() bool {
	return c != nil && c.Operator != ""
}

// GroupByClause is one GROUP BY entry. ROLLUP and CUBE are represented as
// functions.
type GroupByClause struct {
	Field    string
	Function *FieldFunction
}

// OrderByClause is one ORDER BY entry. Order is ASC, DESC or empty; Nulls is
// FIRST, LAST or empty.
type OrderByClause struct {
	Field    string
	Function *FieldFunction
	Order    string
	Nulls    string
}

package restore

import (
	"soqlrestore/internal/describe"
	"soqlrestore/internal/metadatatree"
	"soqlrestore/internal/setutil"
	"soqlrestore/internal/soql"
)

// Result is the editor state restored from one query.
type Result struct {
	RootObject     string                     `json:"rootObject"`
	MetadataTree   *metadatatree.Tree         `json:"metadataTree"`
	SelectedFields []SelectedField            `json:"selectedFields"`
	Subqueries     map[string]*SubqueryResult `json:"subqueries"`
	Where          Filter                     `json:"where"`
	Having         Filter                     `json:"having"`
	OrderBy        []OrderByRow               `json:"orderBy,omitempty"`
	GroupBy        []GroupByRow               `json:"groupBy,omitempty"`
	Limit          *int                       `json:"limit,omitempty"`
	Offset         *int                       `json:"offset,omitempty"`
	Diagnostics    Diagnostics                `json:"diagnostics"`
}

// SubqueryResult is the restored state of one sub-select, keyed in
// Result.Subqueries by child relationship name.
type SubqueryResult struct {
	Object         string             `json:"object"`
	Tree           *metadatatree.Tree `json:"tree"`
	SelectedFields []SelectedField    `json:"selectedFields"`
}

// SelectedField is a resolved SELECT entry.
type SelectedField struct {
	Path                string         `json:"path"`
	PolymorphicTypeHint string         `json:"polymorphicTypeHint,omitempty"`
	Function            string         `json:"function,omitempty"`
	Alias               string         `json:"alias,omitempty"`
	Descriptor          describe.Field `json:"descriptor"`
}

// Action joins the rows of a filter or group.
type Action string

const (
	ActionAnd Action = "AND"
	ActionOr  Action = "OR"
)

// Operator is the normalized comparison of a condition row.
type Operator string

const (
	OpEq               Operator = "eq"
	OpNe               Operator = "ne"
	OpLt               Operator = "lt"
	OpLte              Operator = "lte"
	OpGt               Operator = "gt"
	OpGte              Operator = "gte"
	OpContains         Operator = "contains"
	OpDoesNotContain   Operator = "doesNotContain"
	OpStartsWith       Operator = "startsWith"
	OpDoesNotStartWith Operator = "doesNotStartWith"
	OpEndsWith         Operator = "endsWith"
	OpDoesNotEndWith   Operator = "doesNotEndWith"
	OpIsNull           Operator = "isNull"
	OpIsNotNull        Operator = "isNotNull"
	OpIn               Operator = "in"
	OpNotIn            Operator = "notIn"
	OpIncludes         Operator = "includes"
	OpExcludes         Operator = "excludes"
)

// IsList reports whether the operator takes a list of values.
func (o Operator) IsList() bool {
	switch o {
	case OpIn, OpNotIn, OpIncludes, OpExcludes:
		return true
	}
	return false
}

// Filter is a flattened WHERE or HAVING expression.
type Filter struct {
	Action Action      `json:"action"`
	Rows   []FilterRow `json:"rows"`
}

// FilterRow holds either a condition or a group.
type FilterRow struct {
	Condition *ConditionRow `json:"condition,omitempty"`
	Group     *GroupRow     `json:"group,omitempty"`
}

// ConditionRow is one comparison. Values is set for list operators, Value
// otherwise. Both are unquoted and unescaped.
type ConditionRow struct {
	Field       string           `json:"field"`
	Function    string           `json:"function,omitempty"`
	Operator    Operator         `json:"operator"`
	Value       string           `json:"value,omitempty"`
	Values      []string         `json:"values,omitempty"`
	LiteralType soql.LiteralType `json:"literalType,omitempty"`
}

// GroupRow is a parenthesized run of conditions. Groups do not nest.
type GroupRow struct {
	Action Action         `json:"action"`
	Rows   []ConditionRow `json:"rows"`
}

// OrderByRow is a resolved ORDER BY entry.
type OrderByRow struct {
	Field    string `json:"field"`
	Function string `json:"function,omitempty"`
	Order    string `json:"order,omitempty"`
	Nulls    string `json:"nulls,omitempty"`
}

// GroupByRow is a resolved GROUP BY entry.
type GroupByRow struct {
	Field    string `json:"field"`
	Function string `json:"function,omitempty"`
}

// Diagnostics lists what could not be restored.
type Diagnostics struct {
	MissingFields         []string            `json:"missingFields"`
	MissingSubqueryFields map[string][]string `json:"missingSubqueryFields"`
	MissingMisc           []string            `json:"missingMisc"`
}

// Empty reports whether everything was restored.
func (d Diagnostics) Empty() bool {
	return len(d.MissingFields) == 0 && len(d.MissingSubqueryFields) == 0 && len(d.MissingMisc) == 0
}

// diagnostics collects entries in first-seen order without duplicates.
type diagnostics struct {
	fields    setutil.Ordered[string]
	subFields map[string]*setutil.Ordered[string]
	misc      setutil.Ordered[string]
}

func newDiagnostics() *diagnostics {
	return &diagnostics{subFields: make(map[string]*setutil.Ordered[string])}
}

func (d *diagnostics) missingField(ref string) {
	d.fields.Add(ref)
}

func (d *diagnostics) missingSubqueryField(relationship, ref string) {
	refs, ok := d.subFields[relationship]
	if !ok {
		refs = &setutil.Ordered[string]{}
		d.subFields[relationship] = refs
	}
	refs.Add(ref)
}

func (d *diagnostics) missingMisc(reason string) {
	d.misc.Add(reason)
}

func (d *diagnostics) result() Diagnostics {
	out := Diagnostics{
		MissingFields:         d.fields.Values(),
		MissingSubqueryFields: make(map[string][]string, len(d.subFields)),
		MissingMisc:           d.misc.Values(),
	}
	for rel, refs := range d.subFields {
		out.MissingSubqueryFields[rel] = refs.Values()
	}
	return out
}

// sink receives the fields one SELECT list fails to resolve.
type sink func(ref string)

package restore

import (
	"sort"
	"strings"

	"soqlrestore/internal/metadatatree"
	"soqlrestore/internal/soql"
)

// ComposeResult renders the restored state back to query text. Restoring the
// output against the same schema yields the same selected fields, filters
// and clauses.
func ComposeResult(result *Result) string {
	q := &soql.Query{
		From:   result.RootObject,
		Fields: composeFields(result.SelectedFields),
		Where:  composeFilter(result.Where),
		Having: composeFilter(result.Having),
		Limit:  result.Limit,
		Offset: result.Offset,
	}

	names := make([]string, 0, len(result.Subqueries))
	for name, sub := range result.Subqueries {
		if len(sub.SelectedFields) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		q.Fields = append(q.Fields, &soql.FieldSubquery{Query: &soql.Query{
			From:   name,
			Fields: composeFields(result.Subqueries[name].SelectedFields),
		}})
	}

	for _, row := range result.GroupBy {
		field, fn := composeRef(row.Field, row.Function)
		q.GroupBy = append(q.GroupBy, soql.GroupByClause{Field: field, Function: fn})
	}
	for _, row := range result.OrderBy {
		field, fn := composeRef(row.Field, row.Function)
		q.OrderBy = append(q.OrderBy, soql.OrderByClause{Field: field, Function: fn, Order: row.Order, Nulls: row.Nulls})
	}
	return soql.Compose(q)
}

func composeFields(selected []SelectedField) []soql.Field {
	var fields []soql.Field
	typeofs := make(map[string]*soql.FieldTypeof)
	for _, sf := range selected {
		switch {
		case sf.Function != "":
			fields = append(fields, &soql.FieldFunction{
				Function: sf.Function,
				Args:     []soql.FunctionArg{{Field: sf.Path}},
				Alias:    sf.Alias,
			})
		case sf.PolymorphicTypeHint != "":
			relationship, name := metadatatree.SplitPath(sf.Path)
			typeof, ok := typeofs[strings.ToLower(relationship)]
			if !ok {
				typeof = &soql.FieldTypeof{Relationship: relationship}
				typeofs[strings.ToLower(relationship)] = typeof
				fields = append(fields, typeof)
			}
			typeof.Conditions = appendTypeofField(typeof.Conditions, sf.PolymorphicTypeHint, name)
		default:
			relationship, name := metadatatree.SplitPath(sf.Path)
			if relationship == "" {
				fields = append(fields, &soql.FieldName{Name: name, Alias: sf.Alias})
				continue
			}
			fields = append(fields, &soql.FieldRelationship{
				Relationships: strings.Split(relationship, "."),
				Name:          name,
				Alias:         sf.Alias,
			})
		}
	}
	return fields
}

func appendTypeofField(conds []soql.TypeofCondition, objectType, name string) []soql.TypeofCondition {
	for i := range conds {
		if strings.EqualFold(conds[i].ObjectType, objectType) {
			conds[i].Fields = append(conds[i].Fields, name)
			return conds
		}
	}
	return append(conds, soql.TypeofCondition{ObjectType: objectType, Fields: []string{name}})
}

func composeRef(field, function string) (string, *soql.FieldFunction) {
	if function == "" {
		return field, nil
	}
	return "", &soql.FieldFunction{Function: function, Args: []soql.FunctionArg{{Field: field}}}
}

// chainItem is a condition in output order with the operator that follows
// it and the parentheses of the group it belongs to.
type chainItem struct {
	row    ConditionRow
	opens  int
	closes int
	next   soql.LogicalOperator
}

func composeFilter(filter Filter) *soql.WhereClause {
	var items []chainItem
	for _, row := range filter.Rows {
		if row.Condition != nil {
			items = append(items, chainItem{row: *row.Condition, next: soql.LogicalOperator(filter.Action)})
			continue
		}
		group := row.Group
		for i, cond := range group.Rows {
			item := chainItem{row: cond, next: soql.LogicalOperator(group.Action)}
			if i == 0 {
				item.opens = 1
			}
			if i == len(group.Rows)-1 {
				item.closes = 1
				item.next = soql.LogicalOperator(filter.Action)
			}
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return nil
	}

	var chain *soql.WhereClause
	for i := len(items) - 1; i >= 0; i-- {
		item := items[i]
		cond, negated := composeCondition(item.row)
		cond.CloseParen = item.closes
		link := &soql.WhereClause{Left: cond}
		if chain != nil {
			link.Operator = item.next
			link.Right = chain
		}
		if !negated {
			cond.OpenParen = item.opens
			chain = link
			continue
		}
		// Negated conditions are wrapped on their own: (NOT cond).
		cond.CloseParen++
		chain = &soql.WhereClause{
			Left:     &soql.Condition{OpenParen: item.opens + 1},
			Operator: soql.LogicalNot,
			Right:    link,
		}
	}
	return chain
}

// composeCondition renders a row as a condition. Operators without a positive
// form are returned as negated.
func composeCondition(row ConditionRow) (*soql.Condition, bool) {
	field, fn := composeRef(row.Field, row.Function)
	cond := &soql.Condition{Field: field, Function: fn, LiteralType: row.LiteralType}
	negated := false

	switch row.Operator {
	case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		cond.Operator = comparisonOperators[row.Operator]
		cond.Value = literal(row.Value, row.LiteralType)
	case OpIsNull:
		cond.Operator, cond.Value, cond.LiteralType = "=", "null", soql.LiteralNull
	case OpIsNotNull:
		cond.Operator, cond.Value, cond.LiteralType = "!=", "null", soql.LiteralNull
	case OpContains, OpDoesNotContain:
		cond.Operator, cond.Value = "LIKE", "'%"+soql.EscapeLike(row.Value)+"%'"
		negated = row.Operator == OpDoesNotContain
		cond.LiteralType = soql.LiteralString
	case OpStartsWith, OpDoesNotStartWith:
		cond.Operator, cond.Value = "LIKE", "'"+soql.EscapeLike(row.Value)+"%'"
		negated = row.Operator == OpDoesNotStartWith
		cond.LiteralType = soql.LiteralString
	case OpEndsWith, OpDoesNotEndWith:
		cond.Operator, cond.Value = "LIKE", "'%"+soql.EscapeLike(row.Value)+"'"
		negated = row.Operator == OpDoesNotEndWith
		cond.LiteralType = soql.LiteralString
	case OpIn, OpNotIn, OpIncludes, OpExcludes:
		cond.Operator = listOperators[row.Operator]
		for _, v := range row.Values {
			cond.Values = append(cond.Values, literal(v, row.LiteralType))
		}
	}
	return cond, negated
}

var comparisonOperators = map[Operator]string{
	OpEq:  "=",
	OpNe:  "!=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
}

var listOperators = map[Operator]string{
	OpIn:       "IN",
	OpNotIn:    "NOT IN",
	OpIncludes: "INCLUDES",
	OpExcludes: "EXCLUDES",
}

func literal(value string, literalType soql.LiteralType) string {
	if literalType == soql.LiteralString || literalType == "" {
		return soql.QuoteString(value)
	}
	return value
}

package restore

import (
	"fmt"
	"strings"

	"soqlrestore/internal/soql"
)

// clauseRef resolves a field or simple function reference from ORDER BY or
// GROUP BY. Unknown fields are reported as missing; unsupported functions go
// to the misc bucket.
func clauseRef(index *pathIndex, diag *diagnostics, clause, field string, fn *soql.FieldFunction) (path, function string, ok bool) {
	ref := field
	if fn != nil {
		arg, hasField := fn.FieldArg()
		if !fn.IsSimple() || !hasField {
			diag.missingMisc(fmt.Sprintf("%s: unsupported function %s", clause, soql.FormatFunction(fn)))
			return "", "", false
		}
		ref, function = arg, fn.Function
	}
	entry, found := index.lookup(ref, "")
	if !found {
		diag.missingField(ref)
		return "", "", false
	}
	return entry.Path(), function, true
}

func reconcileOrderBy(clauses []soql.OrderByClause, index *pathIndex, diag *diagnostics) []OrderByRow {
	var rows []OrderByRow
	for _, clause := range clauses {
		path, function, ok := clauseRef(index, diag, "ORDER BY", clause.Field, clause.Function)
		if !ok {
			continue
		}
		rows = append(rows, OrderByRow{
			Field:    path,
			Function: function,
			Order:    clause.Order,
			Nulls:    clause.Nulls,
		})
	}
	return rows
}

// reconcileGroupBy returns nil rather than an empty list when nothing
// resolves.
func reconcileGroupBy(clauses []soql.GroupByClause, index *pathIndex, diag *diagnostics) []GroupByRow {
	var rows []GroupByRow
	for _, clause := range clauses {
		if fn := clause.Function; fn != nil {
			switch strings.ToUpper(fn.Function) {
			case "ROLLUP", "CUBE":
				diag.missingMisc(fmt.Sprintf("GROUP BY %s is not supported", soql.FormatFunction(fn)))
				continue
			}
		}
		path, function, ok := clauseRef(index, diag, "GROUP BY", clause.Field, clause.Function)
		if !ok {
			continue
		}
		rows = append(rows, GroupByRow{Field: path, Function: function})
	}
	return rows
}

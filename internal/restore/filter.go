package restore

import (
	"fmt"
	"strings"

	"soqlrestore/internal/soql"
)

// flattenState tracks whether the flattener is inside a group.
type flattenState int

const (
	scanning flattenState = iota
	inGroup
)

// filterFlattener turns a WHERE or HAVING chain into one level of rows.
//
// Parenthesis counts on each condition drive the state: the first opening
// parenthesis starts a group and the group ends once the depth drops back
// below the level it opened at. Parentheses nested inside an open group are
// absorbed into it. A negated condition that carries both an opening and a
// closing parenthesis is taken to be wrapped on its own, as in (NOT A), and
// that pair does not count towards grouping.
type filterFlattener struct {
	index  *pathIndex
	diag   *diagnostics
	clause string

	state      flattenState
	depth      int
	groupLevel int
	group      *GroupRow
	filter     Filter
}

func flattenFilter(w *soql.WhereClause, index *pathIndex, diag *diagnostics, clause string) Filter {
	f := &filterFlattener{index: index, diag: diag, clause: clause}
	f.run(w)
	if f.filter.Action == "" {
		f.filter.Action = ActionAnd
	}
	if f.filter.Rows == nil {
		f.filter.Rows = []FilterRow{}
	}
	return f.filter
}

// rowCount counts conditions, including those inside groups.
func (f Filter) rowCount() int {
	n := 0
	for _, row := range f.Rows {
		if row.Group != nil {
			n += len(row.Group.Rows)
		} else {
			n++
		}
	}
	return n
}

// leaf is one condition of the chain with the logical operator that follows
// it.
type leaf struct {
	cond     *soql.Condition
	negated  bool
	opens    int
	closes   int
	operator soql.LogicalOperator
}

func (f *filterFlattener) run(w *soql.WhereClause) {
	for w != nil {
		l := leaf{}
		if w.IsNegation() {
			if w.Left != nil {
				l.opens = w.Left.OpenParen
			}
			l.negated = true
			w = w.Right
			if w == nil {
				break
			}
		}
		l.cond = w.Left
		if l.cond != nil {
			l.opens += l.cond.OpenParen
			l.closes = l.cond.CloseParen
		}
		l.operator = w.Operator
		f.step(l)
		w = w.Right
	}
	f.closeGroup()
}

func (f *filterFlattener) step(l leaf) {
	if l.negated && l.opens > 0 && l.closes > 0 {
		l.opens--
		l.closes--
	}

	if l.opens > 0 {
		if f.state == scanning {
			f.state = inGroup
			f.groupLevel = f.depth + 1
			f.group = &GroupRow{}
		}
		f.depth += l.opens
	}

	if row, ok := f.condition(l.cond, l.negated); ok {
		if f.state == inGroup {
			f.group.Rows = append(f.group.Rows, row)
		} else {
			f.filter.Rows = append(f.filter.Rows, FilterRow{Condition: &row})
		}
	}

	f.depth -= l.closes
	if f.depth < 0 {
		f.depth = 0
	}
	if f.state == inGroup && f.depth < f.groupLevel {
		f.closeGroup()
	}

	action := Action(l.operator)
	if action != ActionAnd && action != ActionOr {
		return
	}
	switch {
	case f.state == inGroup && f.group.Action == "":
		f.group.Action = action
	case f.state == scanning && f.filter.Action == "":
		f.filter.Action = action
	}
}

func (f *filterFlattener) closeGroup() {
	if f.state != inGroup {
		return
	}
	f.state = scanning
	f.groupLevel = 0
	group := f.group
	f.group = nil
	if len(group.Rows) == 0 {
		return
	}
	if group.Action == "" {
		group.Action = ActionAnd
	}
	f.filter.Rows = append(f.filter.Rows, FilterRow{Group: group})
}

// condition resolves one leaf. Failures are reported and the leaf is left
// out.
func (f *filterFlattener) condition(c *soql.Condition, negated bool) (ConditionRow, bool) {
	if !c.HasComparison() {
		return ConditionRow{}, false
	}

	ref, function := c.Field, ""
	if c.Function != nil {
		arg, ok := c.Function.FieldArg()
		if !c.Function.IsSimple() || !ok {
			f.diag.missingMisc(fmt.Sprintf("%s: unsupported function %s", f.clause, soql.FormatFunction(c.Function)))
			return ConditionRow{}, false
		}
		ref, function = arg, c.Function.Function
	}
	if c.Subquery != nil {
		f.diag.missingMisc(fmt.Sprintf("%s: semi-join on %s is not supported", f.clause, ref))
		return ConditionRow{}, false
	}

	entry, ok := f.index.lookup(ref, "")
	if !ok {
		f.diag.missingMisc(fmt.Sprintf("%s: unknown field %s", f.clause, ref))
		return ConditionRow{}, false
	}

	row := ConditionRow{
		Field:       entry.Path(),
		Function:    function,
		LiteralType: c.LiteralType,
	}
	op, value, ok := normalizeOperator(c, negated)
	if !ok {
		if strings.EqualFold(c.Operator, "LIKE") {
			f.diag.missingMisc(fmt.Sprintf("%s: LIKE pattern %s on %s is not supported", f.clause, c.Value, ref))
		} else {
			f.diag.missingMisc(fmt.Sprintf("%s: unsupported operator %s on %s", f.clause, c.Operator, ref))
		}
		return ConditionRow{}, false
	}
	row.Operator = op
	if op.IsList() {
		row.Values = make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			row.Values = append(row.Values, soql.Unquote(v, false))
		}
	} else {
		row.Value = value
	}
	return row, true
}

var negatedOperators = map[Operator]Operator{
	OpEq:         OpNe,
	OpNe:         OpEq,
	OpLt:         OpGte,
	OpLte:        OpGt,
	OpGt:         OpLte,
	OpGte:        OpLt,
	OpContains:   OpDoesNotContain,
	OpStartsWith: OpDoesNotStartWith,
	OpEndsWith:   OpDoesNotEndWith,
	OpIsNull:     OpIsNotNull,
	OpIsNotNull:  OpIsNull,
	OpIn:         OpNotIn,
	OpNotIn:      OpIn,
	OpIncludes:   OpExcludes,
	OpExcludes:   OpIncludes,
}

// normalizeOperator maps a raw comparison to the editor's operator and
// returns the scalar value with quotes, escapes and LIKE wildcards removed.
func normalizeOperator(c *soql.Condition, negated bool) (Operator, string, bool) {
	isNull := c.LiteralType == soql.LiteralNull
	var op Operator
	value := soql.Unquote(c.Value, false)

	switch strings.ToUpper(c.Operator) {
	case "=":
		op = OpEq
		if isNull {
			op, value = OpIsNull, ""
		}
	case "!=", "<>":
		op = OpNe
		if isNull {
			op, value = OpIsNotNull, ""
		}
	case "<":
		op = OpLt
	case "<=":
		op = OpLte
	case ">":
		op = OpGt
	case ">=":
		op = OpGte
	case "LIKE":
		var ok bool
		if op, value, ok = likeOperator(c.Value); !ok {
			return "", "", false
		}
	case "IN":
		op = OpIn
	case "NOT IN":
		op = OpNotIn
	case "INCLUDES":
		op = OpIncludes
	case "EXCLUDES":
		op = OpExcludes
	default:
		return "", "", false
	}

	if negated {
		op = negatedOperators[op]
	}
	return op, value, true
}

// likeOperator classifies a LIKE pattern by its leading and trailing
// wildcards. Patterns with unescaped wildcards elsewhere, or with nothing
// left after stripping the wildcards, have no editor operator and report
// false.
func likeOperator(raw string) (Operator, string, bool) {
	if len(raw) < 2 || raw[0] != '\'' || raw[len(raw)-1] != '\'' {
		return OpEq, raw, true
	}
	body := raw[1 : len(raw)-1]
	leading := strings.HasPrefix(body, "%")
	if leading {
		body = body[1:]
	}
	trailing := strings.HasSuffix(body, "%") && !escapedAt(body, len(body)-1)
	if trailing {
		body = body[:len(body)-1]
	}
	if hasWildcard(body) || ((leading || trailing) && body == "") {
		return "", "", false
	}
	value := soql.Unescape(body, true)

	switch {
	case leading && trailing:
		return OpContains, value, true
	case trailing:
		return OpStartsWith, value, true
	case leading:
		return OpEndsWith, value, true
	default:
		return OpEq, value, true
	}
}

func hasWildcard(s string) bool {
	for i := 0; i < len(s); i++ {
		if (s[i] == '%' || s[i] == '_') && !escapedAt(s, i) {
			return true
		}
	}
	return false
}

// escapedAt reports whether the byte at i is preceded by an odd number of
// backslashes.
func escapedAt(s string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

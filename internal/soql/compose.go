package soql

import (
	"strconv"
	"strings"
)

// Compose renders a query back to text. Parsing the output yields an
// equivalent AST.
func Compose(q *Query) string {
	var b strings.Builder
	writeQuery(&b, q)
	return b.String()
}

func writeQuery(b *strings.Builder, q *Query) {
	b.WriteString("SELECT ")
	for i, field := range q.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		writeField(b, field)
	}
	b.WriteString(" FROM ")
	b.WriteString(q.From)

	if q.Where != nil {
		b.WriteString(" WHERE ")
		writeChain(b, q.Where)
	}
	if q.WithSecurityEnforced {
		b.WriteString(" WITH SECURITY_ENFORCED")
	}
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		for i, clause := range q.GroupBy {
			if i > 0 {
				b.WriteString(", ")
			}
			writeFieldOrFunction(b, clause.Field, clause.Function)
		}
	}
	if q.Having != nil {
		b.WriteString(" HAVING ")
		writeChain(b, q.Having)
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, clause := range q.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			writeFieldOrFunction(b, clause.Field, clause.Function)
			if clause.Order != "" {
				b.WriteString(" " + clause.Order)
			}
			if clause.Nulls != "" {
				b.WriteString(" NULLS " + clause.Nulls)
			}
		}
	}
	if q.Limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*q.Limit))
	}
	if q.Offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*q.Offset))
	}
	if q.For != "" {
		b.WriteString(" FOR " + q.For)
	}
}

// FormatField renders a single SELECT entry.
func FormatField(field Field) string {
	var b strings.Builder
	writeField(&b, field)
	return b.String()
}

// FormatFunction renders a function call with its arguments.
func FormatFunction(fn *FieldFunction) string {
	var b strings.Builder
	writeFunction(&b, fn)
	return b.String()
}

func writeField(b *strings.Builder, field Field) {
	switch f := field.(type) {
	case *FieldName:
		b.WriteString(f.Name)
		writeAlias(b, f.Alias)
	case *FieldRelationship:
		b.WriteString(f.Path())
		writeAlias(b, f.Alias)
	case *FieldFunction:
		writeFunction(b, f)
		writeAlias(b, f.Alias)
	case *FieldSubquery:
		b.WriteString("(")
		writeQuery(b, f.Query)
		b.WriteString(")")
	case *FieldTypeof:
		b.WriteString("TYPEOF " + f.Relationship)
		for _, cond := range f.Conditions {
			if cond.Else {
				b.WriteString(" ELSE ")
			} else {
				b.WriteString(" WHEN " + cond.ObjectType + " THEN ")
			}
			b.WriteString(strings.Join(cond.Fields, ", "))
		}
		b.WriteString(" END")
	}
}

func writeAlias(b *strings.Builder, alias string) {
	if alias != "" {
		b.WriteString(" " + alias)
	}
}

func writeFieldOrFunction(b *strings.Builder, field string, fn *FieldFunction) {
	if fn != nil {
		writeFunction(b, fn)
		return
	}
	b.WriteString(field)
}

func writeFunction(b *strings.Builder, fn *FieldFunction) {
	b.WriteString(fn.Function)
	b.WriteString("(")
	for i, arg := range fn.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		switch {
		case arg.Nested != nil:
			writeFunction(b, arg.Nested)
		case arg.Field != "":
			b.WriteString(arg.Field)
		default:
			b.WriteString(arg.Literal)
		}
	}
	b.WriteString(")")
}

func writeChain(b *strings.Builder, w *WhereClause) {
	for link := w; link != nil; link = link.Right {
		if link.IsNegation() {
			if link.Left != nil {
				b.WriteString(strings.Repeat("(", link.Left.OpenParen))
			}
			b.WriteString("NOT ")
			if link.Right == nil {
				return
			}
			link = link.Right
		}
		if link.Left != nil {
			writeCondition(b, link.Left)
		}
		if link.Right == nil {
			return
		}
		b.WriteString(" " + string(link.Operator) + " ")
	}
}

func writeCondition(b *strings.Builder, c *Condition) {
	b.WriteString(strings.Repeat("(", c.OpenParen))
	writeFieldOrFunction(b, c.Field, c.Function)
	b.WriteString(" " + c.Operator + " ")
	switch {
	case c.Subquery != nil:
		b.WriteString("(")
		writeQuery(b, c.Subquery)
		b.WriteString(")")
	case isListOperator(c.Operator):
		b.WriteString("(" + strings.Join(c.Values, ", ") + ")")
	default:
		b.WriteString(c.Value)
	}
	b.WriteString(strings.Repeat(")", c.CloseParen))
}

// QuoteString renders s as a single-quoted literal, escaping backslashes and
// quotes.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '\'':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// EscapeLike escapes LIKE wildcards in addition to the characters QuoteString
// handles. The result is not quoted.
func EscapeLike(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '\'', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Unquote strips surrounding single quotes and resolves backslash escapes.
// When like is set, escaped wildcards are resolved as well. Unquoted input is
// returned unchanged.
func Unquote(s string, like bool) string {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return s
	}
	return Unescape(s[1:len(s)-1], like)
}

// Unescape resolves backslash escapes in the body of a string literal.
func Unescape(s string, like bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			next := s[i+1]
			switch {
			case next == '\'' || next == '"' || next == '\\':
				b.WriteByte(next)
				i++
				continue
			case like && (next == '%' || next == '_'):
				b.WriteByte(next)
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

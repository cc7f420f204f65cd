package metadatatree

import (
	"strings"

	"soqlrestore/internal/setutil"
	"soqlrestore/internal/soql"
)

// PathRef is a dotted relationship path without its leaf field. TypeHint, when
// set, picks the target of the polymorphic relationship named by the last
// segment of Path.
type PathRef struct {
	Path     string
	TypeHint string
}

func (p PathRef) key() string {
	return strings.ToLower(p.Path) + "\x00" + strings.ToLower(p.TypeHint)
}

// SplitPath splits a dotted field reference into its relationship path and
// leaf field name. A plain field has an empty relationship path.
func SplitPath(ref string) (relationship, field string) {
	idx := strings.LastIndex(ref, ".")
	if idx < 0 {
		return "", ref
	}
	return ref[:idx], ref[idx+1:]
}

// ExtractPaths collects the relationship paths one query level needs: the
// SELECT list, TYPEOF branches, function arguments, WHERE, HAVING, GROUP BY
// and ORDER BY. Sub-selects are excluded; each is extracted on its own.
// Paths are returned once each, in order of first appearance.
func ExtractPaths(q *soql.Query) []PathRef {
	if q == nil {
		return nil
	}
	c := &collector{}

	for _, field := range q.Fields {
		switch f := field.(type) {
		case *soql.FieldRelationship:
			c.add(PathRef{Path: strings.Join(f.Relationships, ".")})
		case *soql.FieldFunction:
			c.addFunction(f)
		case *soql.FieldTypeof:
			for _, cond := range f.Conditions {
				hint := cond.ObjectType
				if cond.Else {
					hint = ""
				}
				c.add(PathRef{Path: f.Relationship, TypeHint: hint})
			}
		}
	}
	c.addChain(q.Where)
	c.addChain(q.Having)
	for _, group := range q.GroupBy {
		c.addField(group.Field)
		c.addFunction(group.Function)
	}
	for _, order := range q.OrderBy {
		c.addField(order.Field)
		c.addFunction(order.Function)
	}
	return c.paths
}

type collector struct {
	paths []PathRef
	seen  setutil.Ordered[string]
}

func (c *collector) add(ref PathRef) {
	if ref.Path == "" {
		return
	}
	if !c.seen.Add(ref.key()) {
		return
	}
	c.paths = append(c.paths, ref)
}

func (c *collector) addField(ref string) {
	relationship, _ := SplitPath(ref)
	c.add(PathRef{Path: relationship})
}

func (c *collector) addFunction(fn *soql.FieldFunction) {
	if fn == nil {
		return
	}
	for _, arg := range fn.Args {
		if arg.Nested != nil {
			c.addFunction(arg.Nested)
			continue
		}
		c.addField(arg.Field)
	}
}

func (c *collector) addChain(w *soql.WhereClause) {
	for ; w != nil; w = w.Right {
		if !w.Left.HasComparison() {
			continue
		}
		c.addField(w.Left.Field)
		c.addFunction(w.Left.Function)
	}
}

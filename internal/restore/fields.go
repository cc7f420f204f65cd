package restore

import (
	"fmt"
	"strings"

	"soqlrestore/internal/soql"
)

// fieldResolver maps one SELECT list onto its tree. Sub-selects are skipped;
// they are resolved against their own tree.
type fieldResolver struct {
	index   *pathIndex
	missing sink
	diag    *diagnostics
	scope   string

	selected []SelectedField
	seen     map[string]struct{}
}

func newFieldResolver(index *pathIndex, missing sink, diag *diagnostics, scope string) *fieldResolver {
	return &fieldResolver{
		index:   index,
		missing: missing,
		diag:    diag,
		scope:   scope,
		seen:    make(map[string]struct{}),
	}
}

func (r *fieldResolver) resolve(fields []soql.Field) []SelectedField {
	for _, field := range fields {
		switch f := field.(type) {
		case *soql.FieldName:
			r.resolvePath(f.Name, "", "", f.Alias)
		case *soql.FieldRelationship:
			r.resolvePath(f.Path(), "", "", f.Alias)
		case *soql.FieldFunction:
			r.resolveFunction(f)
		case *soql.FieldTypeof:
			r.resolveTypeof(f)
		case *soql.FieldSubquery:
			if r.scope != "" {
				r.diag.missingMisc(fmt.Sprintf("%s: nested sub-select on %s is not supported", r.scope, f.Query.From))
			}
		}
	}
	if r.selected == nil {
		return []SelectedField{}
	}
	return r.selected
}

func (r *fieldResolver) resolveFunction(fn *soql.FieldFunction) {
	text := soql.FormatFunction(fn)
	if len(fn.Args) == 0 {
		r.diag.missingMisc(r.prefix() + text + " does not reference a field")
		return
	}
	ref, ok := fn.FieldArg()
	if !fn.IsSimple() || !ok {
		r.diag.missingMisc(r.prefix() + "unsupported function " + text)
		return
	}
	r.resolvePath(ref, "", fn.Function, fn.Alias)
}

func (r *fieldResolver) resolveTypeof(f *soql.FieldTypeof) {
	for _, cond := range f.Conditions {
		hint := cond.ObjectType
		if cond.Else {
			hint = ""
		}
		for _, name := range cond.Fields {
			raw := f.Relationship + "." + name
			if strings.Contains(name, ".") {
				r.missing(raw)
				continue
			}
			r.resolvePath(raw, hint, "", "")
		}
	}
}

func (r *fieldResolver) resolvePath(ref, hint, function, alias string) {
	entry, ok := r.index.lookup(ref, hint)
	if !ok {
		r.missing(ref)
		return
	}
	key := strings.ToLower(entry.Path()) + "\x00" + strings.ToLower(hint) + "\x00" + strings.ToLower(function)
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}
	r.index.markSelected(entry)
	r.selected = append(r.selected, SelectedField{
		Path:                entry.Path(),
		PolymorphicTypeHint: entry.hint(),
		Function:            function,
		Alias:               alias,
		Descriptor:          *entry.field,
	})
}

func (r *fieldResolver) prefix() string {
	if r.scope == "" {
		return ""
	}
	return r.scope + ": "
}

// rawFields renders every entry of a SELECT list as written, for reporting a
// sub-select that cannot be resolved at all.
func rawFields(fields []soql.Field) []string {
	refs := make([]string, 0, len(fields))
	for _, field := range fields {
		if typeof, ok := field.(*soql.FieldTypeof); ok {
			for _, cond := range typeof.Conditions {
				for _, name := range cond.Fields {
					refs = append(refs, typeof.Relationship+"."+name)
				}
			}
			continue
		}
		refs = append(refs, soql.FormatField(field))
	}
	return refs
}

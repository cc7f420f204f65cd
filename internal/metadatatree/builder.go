package metadatatree

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"soqlrestore/internal/describe"
)

// ObjectSource resolves object describes. *describe.Cache implements it.
type ObjectSource interface {
	Get(ctx context.Context, name string) (*describe.Object, error)
}

// Build assembles the tree of relationships reachable from root along paths.
//
// Paths are grouped by their first segment and matched against the
// relationship names of the current object. Unknown relationships and
// targets that no longer exist are skipped; the fields that depend on them
// fail to resolve later. Branches deeper than MaxLevel are cut off. Sibling
// branches are fetched concurrently, but nodes always appear in the order
// their paths were first requested. Any other describe failure aborts the
// build.
func Build(ctx context.Context, root *describe.Object, baseKey string, paths []PathRef, source ObjectSource) (*Tree, error) {
	b := &builder{baseKey: baseKey, source: source}
	nodes, err := b.children(ctx, root, "", "", 0, paths)
	if err != nil {
		return nil, err
	}
	return &Tree{
		BaseKey:    baseKey,
		Root:       root,
		RootName:   root.Name,
		Nodes:      nodes,
		rootFields: fieldMap(root),
	}, nil
}

type builder struct {
	baseKey string
	source  ObjectSource
}

// branch is the set of requested paths sharing one first segment.
type branch struct {
	segment string
	hint    string
	rest    []PathRef
}

func (b *builder) children(ctx context.Context, parent *describe.Object, parentKey, parentPath string, level int, paths []PathRef) ([]*Node, error) {
	if level > MaxLevel || len(paths) == 0 {
		return nil, nil
	}
	branches := partition(paths)

	nodes := make([]*Node, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, br := range branches {
		g.Go(func() error {
			node, err := b.node(gctx, parent, parentKey, parentPath, level, br)
			if err != nil {
				return err
			}
			nodes[i] = node
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resolved := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			resolved = append(resolved, n)
		}
	}
	return resolved, nil
}

func (b *builder) node(ctx context.Context, parent *describe.Object, parentKey, parentPath string, level int, br branch) (*Node, error) {
	rel, ok := relationshipField(parent, br.segment)
	if !ok {
		return nil, nil
	}
	target, ok := targetObject(rel, br.hint)
	if !ok {
		return nil, nil
	}
	obj, err := b.source.Get(ctx, target)
	if errors.Is(err, describe.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key := joinPath(parentKey, strings.ToLower(br.segment))
	canonical := joinPath(parentPath, rel.RelationshipName)
	n := newNode(key, canonical, br.hint, b.baseKey, level, rel, obj)
	if n.Children, err = b.children(ctx, obj, key, canonical, level+1, br.rest); err != nil {
		return nil, err
	}
	return n, nil
}

// partition groups paths by first segment, case-insensitively, in order of
// first appearance. A type hint only distinguishes branches on the segment
// it applies to.
func partition(paths []PathRef) []branch {
	var branches []branch
	index := make(map[string]int)
	for _, ref := range paths {
		first, rest, nested := strings.Cut(ref.Path, ".")
		if first == "" {
			continue
		}
		hint := ""
		if !nested {
			hint = ref.TypeHint
		}
		key := strings.ToLower(first) + "\x00" + strings.ToLower(hint)
		i, ok := index[key]
		if !ok {
			i = len(branches)
			index[key] = i
			branches = append(branches, branch{segment: first, hint: hint})
		}
		if nested {
			branches[i].rest = append(branches[i].rest, PathRef{Path: rest, TypeHint: ref.TypeHint})
		}
	}
	return branches
}

func relationshipField(obj *describe.Object, name string) (describe.Field, bool) {
	for _, f := range obj.Fields {
		if f.RelationshipName != "" && strings.EqualFold(f.RelationshipName, name) {
			return f, true
		}
	}
	return describe.Field{}, false
}

// targetObject picks the object a relationship leads to. The hint must name
// one of the field's targets; without a hint the first target is used.
func targetObject(rel describe.Field, hint string) (string, bool) {
	if len(rel.ReferenceTo) == 0 {
		return "", false
	}
	if hint == "" {
		return rel.ReferenceTo[0], true
	}
	for _, target := range rel.ReferenceTo {
		if strings.EqualFold(target, hint) {
			return target, true
		}
	}
	return "", false
}

func joinPath(parent, segment string) string {
	if parent == "" {
		return segment
	}
	return parent + "." + segment
}

package restore

import (
	"strings"

	"soqlrestore/internal/describe"
	"soqlrestore/internal/metadatatree"
)

// pathIndex maps every field reachable in a tree to its node and descriptor,
// keyed by lowercase dotted path and type hint.
type pathIndex struct {
	tree    *metadatatree.Tree
	entries map[string]indexEntry
}

type indexEntry struct {
	node  *metadatatree.Node // nil for root object fields
	field *describe.Field
}

// Path returns the reference spelled with canonical relationship and field
// names.
func (e indexEntry) Path() string {
	if e.node == nil {
		return e.field.Name
	}
	return e.node.CanonicalPath + "." + e.field.Name
}

func (e indexEntry) hint() string {
	if e.node == nil {
		return ""
	}
	return e.node.TypeHint
}

func newPathIndex(tree *metadatatree.Tree) *pathIndex {
	idx := &pathIndex{tree: tree, entries: make(map[string]indexEntry)}
	for i := range tree.Root.Fields {
		f := &tree.Root.Fields[i]
		idx.entries[indexKey(f.Name, "")] = indexEntry{field: f}
	}
	tree.Walk(func(n *metadatatree.Node) bool {
		for i := range n.Object.Fields {
			f := &n.Object.Fields[i]
			idx.entries[indexKey(n.Key+"."+f.Name, n.TypeHint)] = indexEntry{node: n, field: f}
		}
		return true
	})
	return idx
}

func indexKey(path, hint string) string {
	return strings.ToLower(path) + "\x00" + strings.ToLower(hint)
}

func (idx *pathIndex) lookup(path, hint string) (indexEntry, bool) {
	e, ok := idx.entries[indexKey(path, hint)]
	return e, ok
}

// markSelected records the selection on the owning node so the editor can
// expand it.
func (idx *pathIndex) markSelected(e indexEntry) {
	if e.node == nil {
		idx.tree.MarkSelected(e.field.Name)
		return
	}
	e.node.MarkSelected(e.field.Name)
}

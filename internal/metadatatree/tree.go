// Package metadatatree builds the bounded-depth tree of related object
// describes a query needs, starting from its root object.
package metadatatree

import (
	"strings"

	"soqlrestore/internal/describe"
)

// MaxLevel is the deepest node level. Level 0 holds the root object's direct
// relationships, so a tree spans at most MaxLevel+1 relationship hops.
const MaxLevel = 4

// Node is one relationship reached from the root object.
type Node struct {
	// Key is the lowercase dotted relationship path, e.g. "owner.manager".
	Key string `json:"key"`
	// CanonicalPath is Key spelled with the describe's relationship names.
	CanonicalPath string `json:"path"`
	TypeHint      string `json:"typeHint,omitempty"`
	// FieldKey identifies the node across trees: "<baseKey>|<CanonicalPath>.".
	FieldKey string `json:"fieldKey"`
	Level    int    `json:"level"`
	// Relationship is the reference field on the parent that leads here.
	Relationship describe.Field   `json:"-"`
	Object       *describe.Object `json:"-"`
	ObjectName   string           `json:"object"`
	Children     []*Node          `json:"children,omitempty"`
	Selected     []string         `json:"selected,omitempty"`

	fields map[string]*describe.Field
}

func newNode(key, canonical, hint, baseKey string, level int, rel describe.Field, obj *describe.Object) *Node {
	n := &Node{
		Key:           key,
		CanonicalPath: canonical,
		TypeHint:      hint,
		FieldKey:      fieldKey(baseKey, canonical, hint),
		Level:         level,
		Relationship:  rel,
		Object:        obj,
		ObjectName:    obj.Name,
		fields:        fieldMap(obj),
	}
	return n
}

// Field looks up a field of the node's object case-insensitively.
func (n *Node) Field(name string) (*describe.Field, bool) {
	f, ok := n.fields[strings.ToLower(name)]
	return f, ok
}

// MarkSelected records that a field of this node was selected. Repeated names
// are recorded once.
func (n *Node) MarkSelected(name string) {
	n.Selected = appendUnique(n.Selected, name)
}

// Tree is the forest of relationships for one query level. The root object's
// own fields are looked up through the tree itself.
type Tree struct {
	BaseKey    string           `json:"baseKey"`
	Root       *describe.Object `json:"-"`
	RootName   string           `json:"object"`
	Nodes      []*Node          `json:"nodes"`
	Selected   []string         `json:"selected,omitempty"`
	rootFields map[string]*describe.Field
}

// Field looks up a field of the root object case-insensitively.
func (t *Tree) Field(name string) (*describe.Field, bool) {
	f, ok := t.rootFields[strings.ToLower(name)]
	return f, ok
}

// MarkSelected records that a root object field was selected.
func (t *Tree) MarkSelected(name string) {
	t.Selected = appendUnique(t.Selected, name)
}

// Find returns the node for a dotted relationship path and type hint. Both
// are matched case-insensitively.
func (t *Tree) Find(path, hint string) (*Node, bool) {
	segments := strings.Split(strings.ToLower(path), ".")
	nodes := t.Nodes
	var found *Node
	for i := range segments {
		key := strings.Join(segments[:i+1], ".")
		last := i == len(segments)-1
		found = nil
		for _, n := range nodes {
			if n.Key != key {
				continue
			}
			if last && !strings.EqualFold(n.TypeHint, hint) {
				continue
			}
			if !last && n.TypeHint != "" {
				continue
			}
			found = n
			break
		}
		if found == nil {
			return nil, false
		}
		nodes = found.Children
	}
	return found, found != nil
}

// Walk visits every node depth-first in tree order. Returning false from fn
// skips the node's children.
func (t *Tree) Walk(fn func(*Node) bool) {
	var walk func([]*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			if fn(n) {
				walk(n.Children)
			}
		}
	}
	walk(t.Nodes)
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int {
	count := 0
	t.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// Depth returns the number of relationship levels in the tree.
func (t *Tree) Depth() int {
	depth := 0
	t.Walk(func(n *Node) bool {
		if n.Level+1 > depth {
			depth = n.Level + 1
		}
		return true
	})
	return depth
}

func fieldKey(baseKey, canonical, hint string) string {
	if hint != "" {
		return baseKey + "|" + canonical + "(" + hint + ")."
	}
	return baseKey + "|" + canonical + "."
}

func fieldMap(obj *describe.Object) map[string]*describe.Field {
	m := make(map[string]*describe.Field, len(obj.Fields))
	for i := range obj.Fields {
		m[strings.ToLower(obj.Fields[i].Name)] = &obj.Fields[i]
	}
	return m
}

func appendUnique(list []string, name string) []string {
	for _, existing := range list {
		if existing == name {
			return list
		}
	}
	return append(list, name)
}

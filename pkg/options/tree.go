package options

import (
	"maps"
	"slices"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

type node struct {
	definition Definition
	children   []string // sorted final segments
}

// Tree is an arena of option nodes keyed by attribute. The root node always
// exists and carries no definition.
//
// A Tree is mutated only by applying updates through an Editor, and is not
// safe for concurrent use.
type Tree struct {
	nodes map[attribute.Attribute]*node
}

// NewTree returns a tree holding only the root.
func NewTree() *Tree {
	return &Tree{nodes: map[attribute.Attribute]*node{attribute.Root(): {}}}
}

// BuildTree returns a tree holding defs. Missing ancestors are created as
// undefined structural nodes. A definition for the root is ignored.
func BuildTree(defs map[attribute.Attribute]Definition) *Tree {
	t := NewTree()
	for _, attr := range slices.SortedFunc(maps.Keys(defs), attribute.Attribute.Compare) {
		if attr.IsRoot() {
			continue
		}
		t.ensure(attr).definition = defs[attr]
	}
	return t
}

// ensure returns the node at attr, creating it and its ancestors as needed.
func (t *Tree) ensure(attr attribute.Attribute) *node {
	if n, ok := t.nodes[attr]; ok {
		return n
	}
	parent := t.ensure(attr.Parent())
	n := &node{}
	t.nodes[attr] = n
	parent.addChild(attr.End())
	return n
}

func (n *node) addChild(segment string) {
	i, found := slices.BinarySearch(n.children, segment)
	if !found {
		n.children = slices.Insert(n.children, i, segment)
	}
}

func (n *node) removeChild(segment string) {
	if i, found := slices.BinarySearch(n.children, segment); found {
		n.children = slices.Delete(n.children, i, i+1)
	}
}

// Has reports whether attr is a node of the tree.
func (t *Tree) Has(attr attribute.Attribute) bool {
	_, ok := t.nodes[attr]
	return ok
}

// Definition returns the definition at attr.
func (t *Tree) Definition(attr attribute.Attribute) (Definition, bool) {
	n, ok := t.nodes[attr]
	if !ok {
		return Undefined(), false
	}
	return n.definition, true
}

// Children returns the direct children of attr in segment order.
func (t *Tree) Children(attr attribute.Attribute) []attribute.Attribute {
	n, ok := t.nodes[attr]
	if !ok {
		return nil
	}
	children := make([]attribute.Attribute, len(n.children))
	for i, seg := range n.children {
		children[i] = attr.Child(seg)
	}
	return children
}

// Descendants returns every node below attr in depth-first pre-order.
func (t *Tree) Descendants(attr attribute.Attribute) []attribute.Attribute {
	var out []attribute.Attribute
	_ = t.walk(attr, func(a attribute.Attribute, _ Definition) error {
		if a != attr {
			out = append(out, a)
		}
		return nil
	})
	return out
}

// Walk calls fn for every non-root node in depth-first pre-order, stopping at
// the first error.
func (t *Tree) Walk(fn func(attribute.Attribute, Definition) error) error {
	return t.walk(attribute.Root(), func(a attribute.Attribute, d Definition) error {
		if a.IsRoot() {
			return nil
		}
		return fn(a, d)
	})
}

func (t *Tree) walk(attr attribute.Attribute, fn func(attribute.Attribute, Definition) error) error {
	n, ok := t.nodes[attr]
	if !ok {
		return nil
	}
	if err := fn(attr, n.definition); err != nil {
		return err
	}
	for _, seg := range n.children {
		if err := t.walk(attr.Child(seg), fn); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of nodes excluding the root.
func (t *Tree) Len() int {
	return len(t.nodes) - 1
}

// Snapshot returns the definition of every non-root node, including
// undefined structural nodes.
func (t *Tree) Snapshot() map[attribute.Attribute]Definition {
	out := make(map[attribute.Attribute]Definition, len(t.nodes)-1)
	for attr, n := range t.nodes {
		if !attr.IsRoot() {
			out[attr] = n.definition
		}
	}
	return out
}

// Clone returns an independent copy of t.
func (t *Tree) Clone() *Tree {
	c := &Tree{nodes: make(map[attribute.Attribute]*node, len(t.nodes))}
	for attr, n := range t.nodes {
		c.nodes[attr] = &node{definition: n.definition, children: slices.Clone(n.children)}
	}
	return c
}

// Equal reports whether both trees hold the same nodes with equal
// definitions.
func (t *Tree) Equal(other *Tree) bool {
	if len(t.nodes) != len(other.nodes) {
		return false
	}
	for attr, n := range t.nodes {
		o, ok := other.nodes[attr]
		if !ok || !n.definition.Equal(o.definition) {
			return false
		}
	}
	return true
}

func (t *Tree) setDefinition(attr attribute.Attribute, d Definition) {
	t.nodes[attr].definition = d
}

func (t *Tree) insert(attr attribute.Attribute, d Definition) {
	t.nodes[attr] = &node{definition: d}
	t.nodes[attr.Parent()].addChild(attr.End())
}

// subtree copies the nodes at and below attr.
func (t *Tree) subtree(attr attribute.Attribute) Subtree {
	s := Subtree{root: attr, nodes: map[attribute.Attribute]Definition{}}
	_ = t.walk(attr, func(a attribute.Attribute, d Definition) error {
		rel, _ := a.TrimPrefix(attr)
		s.nodes[rel] = d
		return nil
	})
	return s
}

// detach removes attr and its descendants and returns them.
func (t *Tree) detach(attr attribute.Attribute) Subtree {
	s := t.subtree(attr)
	for rel := range s.nodes {
		delete(t.nodes, attr.Join(rel))
	}
	t.nodes[attr.Parent()].removeChild(attr.End())
	return s
}

// attach inserts s at the attribute it was captured from.
func (t *Tree) attach(s Subtree) {
	for _, rel := range slices.SortedFunc(maps.Keys(s.nodes), attribute.Attribute.Compare) {
		t.insert(s.root.Join(rel), s.nodes[rel])
	}
}

// Subtree is a detached copy of a node and its descendants, keyed relative
// to the node.
type Subtree struct {
	root  attribute.Attribute
	nodes map[attribute.Attribute]Definition
}

// Root returns the attribute the subtree was captured at.
func (s Subtree) Root() attribute.Attribute {
	return s.root
}

// Len returns the number of captured nodes, including the root.
func (s Subtree) Len() int {
	return len(s.nodes)
}

// Definitions returns the captured definitions keyed by attribute relative
// to Root.
func (s Subtree) Definitions() map[attribute.Attribute]Definition {
	return maps.Clone(s.nodes)
}

// moved returns s re-rooted at attr.
func (s Subtree) moved(attr attribute.Attribute) Subtree {
	return Subtree{root: attr, nodes: s.nodes}
}

// Equal reports whether both subtrees were captured at the same attribute
// and hold equal definitions.
func (s Subtree) Equal(other Subtree) bool {
	if s.root != other.root || len(s.nodes) != len(other.nodes) {
		return false
	}
	for rel, d := range s.nodes {
		o, ok := other.nodes[rel]
		if !ok || !d.Equal(o) {
			return false
		}
	}
	return true
}

// Package schema loads task definition documents and flattens their include
// chains into a single arena-backed tree.
//
// Nodes live in one slice owned by the Tree and refer to each other through
// Handles. Merging an included document grafts a deep copy of its nodes into
// the including tree, so no node is ever shared between trees.
package schema

import (
	"fmt"
	"strings"

	"github.com/agentic-research/i2run/api"
)

// Handle addresses a node inside a Tree. The zero Handle is nil.
type Handle uint32

// Nil is the zero handle.
const Nil Handle = 0

// IncludeRef points an include node at its base document.
type IncludeRef struct {
	Project  string
	RelPath  string
	BaseName string
}

// Path returns the document path relative to the installation root.
func (r IncludeRef) Path() string {
	return strings.TrimPrefix(strings.Trim(r.RelPath, "/")+"/"+r.BaseName, "/")
}

// Node is one element of a schema tree.
type Node struct {
	Kind     api.Kind
	ID       string
	Parent   Handle
	Children []Handle

	// Content and type-descriptor nodes.
	TypeName   string
	ToolTip    string
	Choices    []string
	Qualifiers map[string]string

	// Include nodes.
	Include *IncludeRef
}

// OnlyEnumerators reports whether Choices is a closed set.
func (n *Node) OnlyEnumerators() bool {
	switch strings.ToLower(n.Qualifiers["onlyEnumerators"]) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Tree is an arena of schema nodes rooted at a single body node.
type Tree struct {
	nodes  []Node
	body   Handle
	source string
}

func newTree(source string) *Tree {
	// Slot 0 backs the nil handle.
	return &Tree{nodes: make([]Node, 1, 64), source: source}
}

// Source is the document path the tree was loaded from.
func (t *Tree) Source() string { return t.source }

// Body returns the handle of the body node.
func (t *Tree) Body() Handle { return t.body }

// Node returns the node for h. It panics on a handle from another tree.
func (t *Tree) Node(h Handle) *Node {
	if h == Nil || int(h) >= len(t.nodes) {
		panic(fmt.Sprintf("schema: invalid handle %d", h))
	}
	return &t.nodes[h]
}

func (t *Tree) add(parent Handle, n Node) Handle {
	n.Parent = parent
	t.nodes = append(t.nodes, n)
	h := Handle(len(t.nodes) - 1)
	if parent != Nil {
		p := &t.nodes[parent]
		p.Children = append(p.Children, h)
	}
	return h
}

// detach unlinks h from its parent. The node stays in the arena, unreachable.
func (t *Tree) detach(h Handle) {
	parent := t.nodes[h].Parent
	if parent == Nil {
		return
	}
	children := t.nodes[parent].Children
	for i, c := range children {
		if c == h {
			t.nodes[parent].Children = append(children[:i:i], children[i+1:]...)
			break
		}
	}
	t.nodes[h].Parent = Nil
}

// graft deep-copies the subtree rooted at h in src under parent.
func (t *Tree) graft(parent Handle, src *Tree, h Handle) Handle {
	n := src.nodes[h]
	cp := Node{
		Kind:       n.Kind,
		ID:         n.ID,
		TypeName:   n.TypeName,
		ToolTip:    n.ToolTip,
		Choices:    append([]string(nil), n.Choices...),
		Qualifiers: copyQualifiers(n.Qualifiers),
	}
	if n.Include != nil {
		ref := *n.Include
		cp.Include = &ref
	}
	nh := t.add(parent, cp)
	for _, c := range n.Children {
		t.graft(nh, src, c)
	}
	return nh
}

func copyQualifiers(q map[string]string) map[string]string {
	if q == nil {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Child returns the first direct child of parent with the given kind and id.
func (t *Tree) Child(parent Handle, kind api.Kind, id string) Handle {
	for _, c := range t.nodes[parent].Children {
		n := &t.nodes[c]
		if n.Kind == kind && n.ID == id {
			return c
		}
	}
	return Nil
}

// Walk visits every node reachable from the body in document order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(h Handle, n *Node) bool) {
	if t.body == Nil {
		return
	}
	t.walk(t.body, fn)
}

func (t *Tree) walk(h Handle, fn func(Handle, *Node) bool) {
	if !fn(h, &t.nodes[h]) {
		return
	}
	for _, c := range t.nodes[h].Children {
		t.walk(c, fn)
	}
}

// Contents returns every content node reachable from the body, in document order.
func (t *Tree) Contents() []Handle {
	var out []Handle
	t.Walk(func(h Handle, n *Node) bool {
		if n.Kind == api.KindContent {
			out = append(out, h)
		}
		return true
	})
	return out
}

// Descendants returns the content nodes below h with the given id.
func (t *Tree) Descendants(h Handle, id string) []Handle {
	var out []Handle
	t.walk(h, func(c Handle, n *Node) bool {
		if c != h && n.Kind == api.KindContent && n.ID == id {
			out = append(out, c)
		}
		return true
	})
	return out
}

// InOutputData reports whether h sits anywhere under an outputData container.
func (t *Tree) InOutputData(h Handle) bool {
	for p := t.nodes[h].Parent; p != Nil; p = t.nodes[p].Parent {
		n := &t.nodes[p]
		if n.Kind == api.KindContainer && n.ID == api.OutputData {
			return true
		}
	}
	return false
}

// ItemType returns the type-descriptor child of a content node, if any.
func (t *Tree) ItemType(h Handle) Handle {
	for _, c := range t.nodes[h].Children {
		if t.nodes[c].Kind == api.KindTypeDescriptor {
			return c
		}
	}
	return Nil
}

// Outline renders the tree as an indented listing, one node per line.
func (t *Tree) Outline() string {
	var b strings.Builder
	depth := map[Handle]int{}
	t.Walk(func(h Handle, n *Node) bool {
		d := 0
		if n.Parent != Nil {
			d = depth[n.Parent] + 1
		}
		depth[h] = d
		b.WriteString(strings.Repeat("  ", d))
		b.WriteString(n.Kind.String())
		if n.ID != "" {
			b.WriteString(" " + n.ID)
		}
		if n.TypeName != "" {
			b.WriteString(" " + n.TypeName)
		}
		if n.Include != nil {
			b.WriteString(" -> " + n.Include.Path())
		}
		b.WriteByte('\n')
		return true
	})
	return b.String()
}

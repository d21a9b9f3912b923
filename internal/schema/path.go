package schema

import "strings"

// Path is the sequence of container and content ids from below the body to
// a node.
type Path []string

// ParsePath splits a dot-joined path.
func ParsePath(s string) Path {
	if s == "" {
		return nil
	}
	return Path(strings.Split(s, "."))
}

func (p Path) String() string { return strings.Join(p, ".") }

// Last returns the final id, or "" for an empty path.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// PathOf returns the path of h. The body itself has an empty path.
func (t *Tree) PathOf(h Handle) Path {
	var rev []string
	for c := h; c != Nil && c != t.body; c = t.nodes[c].Parent {
		rev = append(rev, t.nodes[c].ID)
	}
	p := make(Path, len(rev))
	for i, id := range rev {
		p[len(rev)-1-i] = id
	}
	return p
}

// Resolve is the inverse of PathOf. Every segment but the last must name a
// container; the last names a content node or a container.
func (t *Tree) Resolve(p Path) (Handle, bool) {
	h := t.body
	if h == Nil {
		return Nil, false
	}
	for i, id := range p {
		next := Nil
		for _, c := range t.nodes[h].Children {
			n := &t.nodes[c]
			if n.ID != id {
				continue
			}
			if i < len(p)-1 && !isContainer(n) {
				continue
			}
			next = c
			break
		}
		if next == Nil {
			return Nil, false
		}
		h = next
	}
	return h, true
}

package schema

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/i2run/api"
)

// Element names used by definition documents.
const (
	elemBody       = "ccp4i2_body"
	elemContainer  = "container"
	elemContent    = "content"
	elemInclude    = "file"
	elemClassName  = "className"
	elemQualifiers = "qualifiers"
	elemSubItem    = "subItem"
	elemXMLFile    = "CI2XmlDataFile"
)

// element is a generic XML node; definition documents are schemaless enough
// that decoding into fixed structs loses the child order we depend on.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func (e *element) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (e *element) child(name string) *element {
	for i := range e.Children {
		if e.Children[i].XMLName.Local == name {
			return &e.Children[i]
		}
	}
	return nil
}

func (e *element) text(path ...string) string {
	cur := e
	for _, name := range path {
		if cur = cur.child(name); cur == nil {
			return ""
		}
	}
	return strings.TrimSpace(cur.Text)
}

func isContainer(n *Node) bool {
	return n.Kind == api.KindContainer || n.Kind == api.KindBody
}

// Parse decodes a definition document without resolving includes.
func Parse(r io.Reader, source string) (*Tree, error) {
	var root element
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, err)
	}

	body := &root
	if root.XMLName.Local != elemBody {
		body = root.child(elemBody)
	}
	if body == nil {
		return nil, &ResolutionError{Path: source, Err: ErrMissingBody}
	}

	t := newTree(source)
	t.body = t.add(Nil, Node{Kind: api.KindBody, ID: body.attr("id")})
	for i := range body.Children {
		t.decode(t.body, &body.Children[i])
	}
	return t, nil
}

func (t *Tree) decode(parent Handle, e *element) {
	switch e.XMLName.Local {
	case elemContainer:
		h := t.add(parent, Node{Kind: api.KindContainer, ID: e.attr("id")})
		for i := range e.Children {
			t.decode(h, &e.Children[i])
		}
	case elemContent:
		t.decodeContent(parent, api.KindContent, e.attr("id"), e)
	case elemInclude:
		ref := &IncludeRef{
			Project:  e.text(elemXMLFile, "project"),
			RelPath:  e.text(elemXMLFile, "relPath"),
			BaseName: e.text(elemXMLFile, "baseName"),
		}
		t.add(parent, Node{Kind: api.KindInclude, Include: ref})
	}
}

func (t *Tree) decodeContent(parent Handle, kind api.Kind, id string, e *element) Handle {
	n := Node{
		Kind:     kind,
		ID:       id,
		TypeName: e.text(elemClassName),
	}
	if q := e.child(elemQualifiers); q != nil {
		n.Qualifiers = make(map[string]string, len(q.Children))
		for _, c := range q.Children {
			n.Qualifiers[c.XMLName.Local] = strings.TrimSpace(c.Text)
		}
		n.ToolTip = n.Qualifiers["toolTip"]
		if enum := n.Qualifiers["enumerators"]; enum != "" {
			n.Choices = strings.Split(enum, ",")
		}
	}
	h := t.add(parent, n)
	if sub := e.child(elemSubItem); sub != nil {
		t.decodeContent(h, api.KindTypeDescriptor, elemSubItem, sub)
	}
	return h
}

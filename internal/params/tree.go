package params

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/schema"
)

// RootName is the name of the record holding every container.
const RootName = "container"

// ContainerClass is the class name of records built from schema containers.
const ContainerClass = "CContainer"

// ParamsFile is the parameter file written into a job directory.
const ParamsFile = "input_params.xml"

// Tree is the parameter tree of one job.
type Tree struct {
	Task string
	Root *Record
}

// NewTree instantiates every container and content node of st.
func NewTree(st *schema.Tree, reg *Registry) *Tree {
	root := NewRecord(RootName, ContainerClass)
	tr := &Tree{Task: st.Node(st.Body()).ID, Root: root}
	for _, c := range st.Node(st.Body()).Children {
		build(st, reg, root, c)
	}
	return tr
}

func build(st *schema.Tree, reg *Registry, parent *Record, h schema.Handle) {
	n := st.Node(h)
	switch n.Kind {
	case api.KindContainer:
		rec := NewRecord(parent.ChildName(n.ID), ContainerClass)
		parent.Add(n.ID, rec)
		for _, c := range n.Children {
			build(st, reg, rec, c)
		}
	case api.KindContent:
		parent.Add(n.ID, reg.New(parent.ChildName(n.ID), defOf(st, h)))
	}
}

func defOf(st *schema.Tree, h schema.Handle) Def {
	n := st.Node(h)
	d := Def{
		TypeName: n.TypeName,
		Choices:  n.Choices,
		Only:     n.OnlyEnumerators(),
		Default:  n.Qualifiers["default"],
	}
	if item := st.ItemType(h); item != schema.Nil {
		id := defOf(st, item)
		d.Item = &id
	}
	return d
}

// At returns the entity at p, walking record fields.
func (t *Tree) At(p schema.Path) (Entity, bool) {
	var cur Entity = t.Root
	for _, id := range p {
		next, ok := cur.Field(id)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Container returns the top-level container record named id.
func (t *Tree) Container(id string) (*Record, bool) {
	e, ok := t.Root.Field(id)
	if !ok {
		return nil, false
	}
	rec, ok := e.(*Record)
	return rec, ok
}

// Walk visits every entity in depth-first order, list elements included.
func (t *Tree) Walk(fn func(path string, e Entity)) {
	walk(t.Root, "", fn)
}

func walk(e Entity, path string, fn func(string, Entity)) {
	if path != "" {
		fn(path, e)
	}
	switch v := e.(type) {
	case *Record:
		for _, id := range v.Fields() {
			f, _ := v.Field(id)
			walk(f, joinPath(path, id), fn)
		}
	case *List:
		for i, item := range v.Items() {
			walk(item, fmt.Sprintf("%s[%d]", path, i), fn)
		}
	}
}

func joinPath(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "." + id
}

// Files returns the bound file references of a container keyed by the id
// of the parameter holding them. Nested containers are flattened.
func (t *Tree) Files(container string) map[string][]*FileRef {
	out := map[string][]*FileRef{}
	if rec, ok := t.Container(container); ok {
		collectFiles(rec, out)
	}
	return out
}

func collectFiles(rec *Record, out map[string][]*FileRef) {
	for _, id := range rec.Fields() {
		e, _ := rec.Field(id)
		if sub, ok := e.(*Record); ok && sub.TypeName() == ContainerClass {
			collectFiles(sub, out)
			continue
		}
		walk(e, id, func(_ string, x Entity) {
			if f, ok := x.(*FileRef); ok && f.IsSet() {
				out[id] = append(out[id], f)
			}
		})
	}
}

// Header fields of a parameter file.
type Header struct {
	Function  string
	TaskName  string
	JobID     string
	JobNumber string
	ProjectID string
}

// WriteXML writes the set values of the tree as a parameter document.
func (t *Tree) WriteXML(w io.Writer, h Header) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	root := xml.StartElement{Name: xml.Name{Local: "ccp4i2"}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	if err := writeHeader(enc, h); err != nil {
		return err
	}

	body := xml.StartElement{
		Name: xml.Name{Local: "ccp4i2_body"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "id"}, Value: t.Task}},
	}
	if err := enc.EncodeToken(body); err != nil {
		return err
	}
	for _, id := range t.Root.Fields() {
		e, _ := t.Root.Field(id)
		if err := e.marshal(enc, id); err != nil {
			return fmt.Errorf("write %s: %w", e.Name(), err)
		}
	}
	if err := enc.EncodeToken(body.End()); err != nil {
		return err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func writeHeader(enc *xml.Encoder, h Header) error {
	start := xml.StartElement{Name: xml.Name{Local: "ccp4i2_header"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	fields := [][2]string{
		{"function", h.Function},
		{"taskName", h.TaskName},
		{"jobId", h.JobID},
		{"jobNumber", h.JobNumber},
		{"projectId", h.ProjectID},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := encodeText(enc, f[0], f[1]); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Save writes the tree to dir/input_params.xml and returns the path.
func (t *Tree) Save(dir string, h Header) (string, error) {
	if h.Function == "" {
		h.Function = "PARAMS"
	}
	if h.TaskName == "" {
		h.TaskName = t.Task
	}
	p := filepath.Join(dir, ParamsFile)
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("create params file: %w", err)
	}
	if err := t.WriteXML(f, h); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write params file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return p, nil
}

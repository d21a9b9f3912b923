package params

import (
	"encoding/xml"
	"path/filepath"
	"strconv"
)

// FileKind selects the special forms a file reference supports.
type FileKind uint8

const (
	FileGeneric FileKind = iota
	FileModel
	FileSequence
	FileAsuContent
	FileMiniMtz
	FileMtz
)

func (k FileKind) String() string {
	switch k {
	case FileModel:
		return "model"
	case FileSequence:
		return "sequence"
	case FileAsuContent:
		return "asu-content"
	case FileMiniMtz:
		return "mini-mtz"
	case FileMtz:
		return "mtz"
	}
	return "generic"
}

// Sub-field ids of a file reference.
const (
	FieldAnnotation  = "annotation"
	FieldContentFlag = "contentFlag"
	FieldSubType     = "subType"
	FieldSelection   = "selection"
	FieldFileContent = "fileContent"
	FieldSeqList     = "seqList"
)

// FileRef points at a file on disk and, once persisted, at a file record in
// the project database.
type FileRef struct {
	base
	kind     FileKind
	fullPath string
	dbFileID string
	fields   *Record
}

// NewFileRef returns an unbound file reference of the given kind.
func NewFileRef(name, typeName string, kind FileKind) *FileRef {
	f := &FileRef{
		base:   base{name: name, typeName: typeName},
		kind:   kind,
		fields: NewRecord(name, typeName),
	}
	f.fields.Add(FieldAnnotation, NewScalar(childName(name, FieldAnnotation), "CString", KindString))
	f.fields.Add(FieldContentFlag, NewScalar(childName(name, FieldContentFlag), "CInt", KindInt))
	f.fields.Add(FieldSubType, NewScalar(childName(name, FieldSubType), "CInt", KindInt))
	switch kind {
	case FileModel:
		f.fields.Add(FieldSelection, NewSelection(childName(name, FieldSelection), "CAtomSelection"))
	case FileAsuContent:
		f.fields.Add(FieldFileContent, newAsuContent(childName(name, FieldFileContent)))
	}
	return f
}

func (f *FileRef) Variant() Variant { return VariantFile }
func (f *FileRef) Kind() FileKind   { return f.kind }
func (f *FileRef) FullPath() string { return f.fullPath }
func (f *FileRef) DBFileID() string { return f.dbFileID }
func (f *FileRef) IsSet() bool      { return f.fullPath != "" || f.dbFileID != "" }

// SetFullPath binds the reference to p.
func (f *FileRef) SetFullPath(p string) { f.fullPath = p }

// SetDBFileID binds the reference to a persisted file record.
func (f *FileRef) SetDBFileID(id string) { f.dbFileID = id }

// Set binds the reference to the path v.
func (f *FileRef) Set(v string) error {
	f.fullPath = v
	return nil
}

func (f *FileRef) Field(id string) (Entity, bool) { return f.fields.Field(id) }

func (f *FileRef) scalar(id string) *Scalar {
	e, _ := f.fields.Field(id)
	return e.(*Scalar)
}

// ContentFlag returns the cached content type, 0 when unknown.
func (f *FileRef) ContentFlag() int {
	v, _ := f.scalar(FieldContentFlag).Value().(int64)
	return int(v)
}

// SetContentFlag records the file's content type.
func (f *FileRef) SetContentFlag(n int) {
	_ = f.scalar(FieldContentFlag).Set(strconv.Itoa(n))
}

// ResetContentFlag forgets the cached content type.
func (f *FileRef) ResetContentFlag() {
	f.fields.Add(FieldContentFlag, NewScalar(childName(f.name, FieldContentFlag), "CInt", KindInt))
}

// Annotation returns the file's annotation text.
func (f *FileRef) Annotation() string { return f.scalar(FieldAnnotation).String() }

// Selection returns the atom selection of a model file, or nil.
func (f *FileRef) Selection() *Selection {
	e, ok := f.fields.Field(FieldSelection)
	if !ok {
		return nil
	}
	return e.(*Selection)
}

// Content returns the structured content of an ASU content file, or nil.
func (f *FileRef) Content() *Record {
	e, ok := f.fields.Field(FieldFileContent)
	if !ok {
		return nil
	}
	return e.(*Record)
}

// SeqList returns the sequence list of an ASU content file, or nil.
func (f *FileRef) SeqList() *List {
	c := f.Content()
	if c == nil {
		return nil
	}
	e, _ := c.Field(FieldSeqList)
	return e.(*List)
}

func (f *FileRef) marshal(enc *xml.Encoder, tag string) error {
	if !f.IsSet() && !f.fields.IsSet() {
		return nil
	}
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if f.fullPath != "" {
		if err := encodeText(enc, "relPath", filepath.Dir(f.fullPath)); err != nil {
			return err
		}
		if err := encodeText(enc, "baseName", filepath.Base(f.fullPath)); err != nil {
			return err
		}
	}
	if f.dbFileID != "" {
		if err := encodeText(enc, "dbFileId", f.dbFileID); err != nil {
			return err
		}
	}
	// fileContent is persisted in its own file.
	for _, id := range f.fields.Fields() {
		if id == FieldFileContent {
			continue
		}
		e, _ := f.fields.Field(id)
		if err := e.marshal(enc, id); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func encodeText(enc *xml.Encoder, tag, text string) error {
	return enc.EncodeElement(text, xml.StartElement{Name: xml.Name{Local: tag}})
}

package params

import (
	"encoding/xml"
	"fmt"
)

// Record is an ordered set of named fields. Schema containers and composite
// classes are records.
type Record struct {
	base
	fields []Entity
	ids    []string
	index  map[string]int
}

// NewRecord returns an empty record.
func NewRecord(name, typeName string) *Record {
	return &Record{base: base{name: name, typeName: typeName}, index: map[string]int{}}
}

// Add appends a field under id. A repeated id replaces the earlier field.
func (r *Record) Add(id string, e Entity) Entity {
	if i, ok := r.index[id]; ok {
		r.fields[i] = e
		return e
	}
	r.index[id] = len(r.fields)
	r.fields = append(r.fields, e)
	r.ids = append(r.ids, id)
	return e
}

func (r *Record) Variant() Variant { return VariantRecord }

// Field returns the field named id.
func (r *Record) Field(id string) (Entity, bool) {
	i, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.fields[i], true
}

// Fields returns the field ids in order.
func (r *Record) Fields() []string { return r.ids }

// ChildName is the qualified name a field called id gets.
func (r *Record) ChildName(id string) string { return childName(r.name, id) }

func (r *Record) IsSet() bool {
	for _, e := range r.fields {
		if e.IsSet() {
			return true
		}
	}
	return false
}

func (r *Record) Set(v string) error {
	return fmt.Errorf("%s: %w", r.name, ErrNotAssignable)
}

func (r *Record) marshal(enc *xml.Encoder, tag string) error {
	if !r.IsSet() {
		return nil
	}
	return marshalFields(enc, tag, r.ids, r.fields)
}

func marshalFields(enc *xml.Encoder, tag string, ids []string, fields []Entity) error {
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for i, e := range fields {
		if err := e.marshal(enc, ids[i]); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Selection is an atom selection described by a text expression.
type Selection struct {
	base
	text *Scalar
}

// NewSelection returns an empty selection.
func NewSelection(name, typeName string) *Selection {
	return &Selection{
		base: base{name: name, typeName: typeName},
		text: NewScalar(childName(name, "text"), "CString", KindString),
	}
}

func (s *Selection) Variant() Variant { return VariantSelection }
func (s *Selection) IsSet() bool      { return s.text.IsSet() }

// Text returns the selection expression.
func (s *Selection) Text() string { return s.text.String() }

// SetText replaces the selection expression.
func (s *Selection) SetText(expr string) { _ = s.text.Set(expr) }

// Set assigns the selection expression.
func (s *Selection) Set(v string) error { return s.text.Set(v) }

func (s *Selection) Field(id string) (Entity, bool) {
	if id == "text" {
		return s.text, true
	}
	return nil, false
}

func (s *Selection) marshal(enc *xml.Encoder, tag string) error {
	if !s.IsSet() {
		return nil
	}
	return marshalFields(enc, tag, []string{"text"}, []Entity{s.text})
}

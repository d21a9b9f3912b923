// Package params holds the live parameter tree of a job: one typed entity
// per schema content node, built from a class registry.
package params

import (
	"encoding/xml"
	"errors"
	"fmt"
)

// Variant tags the concrete type behind an Entity.
type Variant uint8

const (
	VariantScalar Variant = iota + 1
	VariantList
	VariantDict
	VariantFile
	VariantSelection
	VariantRecord
)

func (v Variant) String() string {
	switch v {
	case VariantScalar:
		return "scalar"
	case VariantList:
		return "list"
	case VariantDict:
		return "dict"
	case VariantFile:
		return "file"
	case VariantSelection:
		return "selection"
	case VariantRecord:
		return "record"
	}
	return "unknown"
}

// ErrNotAssignable is returned by Set on entities that have no textual form.
var ErrNotAssignable = errors.New("entity cannot be assigned from text")

// Entity is one node of a parameter tree. The set of implementations is
// closed: *Scalar, *List, *Dict, *FileRef, *Selection and *Record.
type Entity interface {
	Variant() Variant
	// Name is the qualified object name, e.g. container.inputData.XYZIN.
	Name() string
	TypeName() string
	IsSet() bool
	Set(v string) error
	// Field returns a named sub-entity.
	Field(name string) (Entity, bool)

	common() *base
	marshal(enc *xml.Encoder, tag string) error
}

type base struct {
	name     string
	typeName string
}

func (b *base) Name() string     { return b.name }
func (b *base) TypeName() string { return b.typeName }
func (b *base) common() *base    { return b }

func childName(parent, id string) string {
	if parent == "" {
		return id
	}
	return parent + "." + id
}

func itemName(parent string, i int) string {
	return fmt.Sprintf("%s[%d]", parent, i)
}

// Describe renders an entity for error messages.
func Describe(e Entity) string {
	return fmt.Sprintf("%s (%s)", e.Name(), e.TypeName())
}

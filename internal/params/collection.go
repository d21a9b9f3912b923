package params

import (
	"encoding/xml"
	"fmt"
)

// ItemFactory builds a fresh list element with the given name.
type ItemFactory func(name string) Entity

// List is a growable ordered list whose elements come from a factory.
type List struct {
	base
	items   []Entity
	newItem ItemFactory
	itemTag string
}

// NewList returns an empty list. itemType names the element class.
func NewList(name, typeName, itemType string, newItem ItemFactory) *List {
	return &List{base: base{name: name, typeName: typeName}, newItem: newItem, itemTag: itemType}
}

func (l *List) Variant() Variant { return VariantList }
func (l *List) Len() int         { return len(l.items) }
func (l *List) ItemType() string { return l.itemTag }

// At returns element i. It panics if i is out of range.
func (l *List) At(i int) Entity { return l.items[i] }

// Items returns the elements in order.
func (l *List) Items() []Entity { return l.items }

// Append adds a factory-built element and returns it.
func (l *List) Append() Entity {
	e := l.newItem(itemName(l.name, len(l.items)))
	l.items = append(l.items, e)
	return e
}

// Reset drops every element.
func (l *List) Reset() { l.items = nil }

// Grow appends elements until the list holds at least n.
func (l *List) Grow(n int) {
	for len(l.items) < n {
		l.Append()
	}
}

// IsSet reports whether any element is set.
func (l *List) IsSet() bool {
	for _, e := range l.items {
		if e.IsSet() {
			return true
		}
	}
	return false
}

func (l *List) Set(v string) error {
	return fmt.Errorf("%s: %w", l.name, ErrNotAssignable)
}

func (l *List) Field(string) (Entity, bool) { return nil, false }

func (l *List) marshal(enc *xml.Encoder, tag string) error {
	if !l.IsSet() {
		return nil
	}
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, e := range l.items {
		if err := e.marshal(enc, l.itemTag); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Dict is an ordered string to string map.
type Dict struct {
	base
	keys   []string
	values map[string]string
}

// NewDict returns an empty dict.
func NewDict(name, typeName string) *Dict {
	return &Dict{base: base{name: name, typeName: typeName}, values: map[string]string{}}
}

func (d *Dict) Variant() Variant            { return VariantDict }
func (d *Dict) IsSet() bool                 { return len(d.keys) > 0 }
func (d *Dict) Field(string) (Entity, bool) { return nil, false }
func (d *Dict) Keys() []string              { return d.keys }

// Put stores value under key, keeping first-insertion order.
func (d *Dict) Put(key, value string) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (string, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Map returns a copy of the contents.
func (d *Dict) Map() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

func (d *Dict) Set(v string) error {
	return fmt.Errorf("%s: %w", d.name, ErrNotAssignable)
}

func (d *Dict) marshal(enc *xml.Encoder, tag string) error {
	if !d.IsSet() {
		return nil
	}
	start := xml.StartElement{Name: xml.Name{Local: tag}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, k := range d.keys {
		item := xml.StartElement{
			Name: xml.Name{Local: "item"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "key"}, Value: k}},
		}
		if err := enc.EncodeElement(d.values[k], item); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

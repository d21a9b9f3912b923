package params

import (
	"encoding/xml"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// ScalarKind is the primitive type held by a Scalar.
type ScalarKind uint8

const (
	KindString ScalarKind = iota
	KindInt
	KindFloat
	KindBool
)

// Scalar is a string, integer, float or boolean value.
type Scalar struct {
	base
	kind    ScalarKind
	choices []string
	only    bool
	dflt    string

	set bool
	str string
	i   int64
	f   float64
	b   bool
}

// NewScalar returns an unset scalar.
func NewScalar(name, typeName string, kind ScalarKind) *Scalar {
	return &Scalar{base: base{name: name, typeName: typeName}, kind: kind}
}

// WithDefault records the schema default. It does not mark the scalar set.
func (s *Scalar) WithDefault(v string) *Scalar {
	s.dflt = v
	return s
}

// Default returns the schema default, if any.
func (s *Scalar) Default() string { return s.dflt }

// WithChoices restricts the scalar to choices when only is true.
func (s *Scalar) WithChoices(choices []string, only bool) *Scalar {
	s.choices = choices
	s.only = only && len(choices) > 0
	return s
}

func (s *Scalar) Variant() Variant            { return VariantScalar }
func (s *Scalar) Kind() ScalarKind            { return s.kind }
func (s *Scalar) IsSet() bool                 { return s.set }
func (s *Scalar) Field(string) (Entity, bool) { return nil, false }
func (s *Scalar) Choices() []string           { return s.choices }

// Set parses v according to the scalar's kind.
func (s *Scalar) Set(v string) error {
	if s.only && !slices.Contains(s.choices, v) {
		return fmt.Errorf("%q is not one of %s", v, strings.Join(s.choices, ","))
	}
	switch s.kind {
	case KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%q is not an integer", v)
		}
		s.i = n
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", v)
		}
		s.f = f
	case KindBool:
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		s.b = b
	default:
		s.str = v
	}
	s.set = true
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", v)
	}
	return b, nil
}

// Value returns the typed value, or nil when unset.
func (s *Scalar) Value() any {
	if !s.set {
		return nil
	}
	switch s.kind {
	case KindInt:
		return s.i
	case KindFloat:
		return s.f
	case KindBool:
		return s.b
	}
	return s.str
}

// String formats the value the way it is written to parameter files.
func (s *Scalar) String() string {
	if !s.set {
		return ""
	}
	switch s.kind {
	case KindInt:
		return strconv.FormatInt(s.i, 10)
	case KindFloat:
		return strconv.FormatFloat(s.f, 'g', -1, 64)
	case KindBool:
		if s.b {
			return "True"
		}
		return "False"
	}
	return s.str
}

func (s *Scalar) marshal(enc *xml.Encoder, tag string) error {
	if !s.set {
		return nil
	}
	return enc.EncodeElement(s.String(), xml.StartElement{Name: xml.Name{Local: tag}})
}

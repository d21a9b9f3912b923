package cliargs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"
)

// occurrenceValue collects the tokens of a flag that takes one or more
// tokens per occurrence. Multi flags keep every occurrence; others keep the
// last one.
type occurrenceValue struct {
	multi   bool
	choices []string
	groups  [][]string
	open    bool
}

var _ pflag.Value = (*occurrenceValue)(nil)

func newOccurrenceValue(multi bool, choices []string) *occurrenceValue {
	return &occurrenceValue{multi: multi, choices: choices}
}

// begin closes the current occurrence so the next Set starts a new one.
func (v *occurrenceValue) begin() { v.open = false }

func (v *occurrenceValue) Set(tok string) error {
	if len(v.choices) > 0 && !slices.Contains(v.choices, tok) {
		return fmt.Errorf("invalid choice %q (choose from %s)", tok, strings.Join(v.choices, ", "))
	}
	if !v.open {
		if v.multi {
			v.groups = append(v.groups, nil)
		} else {
			v.groups = [][]string{nil}
		}
		v.open = true
	}
	last := len(v.groups) - 1
	v.groups[last] = append(v.groups[last], tok)
	return nil
}

func (v *occurrenceValue) String() string {
	parts := make([]string, len(v.groups))
	for i, g := range v.groups {
		parts[i] = "[" + strings.Join(g, " ") + "]"
	}
	return strings.Join(parts, "")
}

func (v *occurrenceValue) Type() string {
	if v.multi {
		return "tokens..."
	}
	return "tokens"
}

// Occurrences returns the token groups supplied for a derived flag.
func Occurrences(fs *pflag.FlagSet, name string) ([][]string, bool) {
	f := fs.Lookup(name)
	if f == nil || !f.Changed {
		return nil, false
	}
	v, ok := f.Value.(*occurrenceValue)
	if !ok || len(v.groups) == 0 {
		return nil, false
	}
	out := make([][]string, len(v.groups))
	for i, g := range v.groups {
		out[i] = append([]string(nil), g...)
	}
	return out, true
}

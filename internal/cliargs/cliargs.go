// Package cliargs derives a command-line flag surface from a merged task
// schema.
package cliargs

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/agentic-research/i2run/internal/schema"
)

// collectionTypes accept repeated occurrences, each appending one element.
var collectionTypes = map[string]bool{
	"CList":               true,
	"CImportUnmergedList": true,
	"CAsuContentSeqList":  true,
	"CEnsembleList":       true,
}

// IsCollection reports whether className is a multi-occurrence type.
func IsCollection(className string) bool { return collectionTypes[className] }

// Spec describes one derived flag.
type Spec struct {
	Flag     string
	Node     schema.Handle
	Path     schema.Path
	TypeName string
	Multi    bool
	Choices  []string
	Help     string
}

// Set is the ordered collection of derived flags for one schema.
type Set struct {
	specs  []Spec
	byFlag map[string]int
	log    *zap.Logger
}

// Build walks t and derives one Spec per input content node.
func Build(t *schema.Tree, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	contents := t.Contents()

	// Ids are counted across the whole tree, outputData included, so an
	// input that shares its id with an output still gets a qualified name.
	seen := make(map[string]int, len(contents))
	for _, h := range contents {
		seen[t.Node(h).ID]++
	}

	s := &Set{byFlag: make(map[string]int), log: logger}
	for _, h := range contents {
		if t.InOutputData(h) {
			continue
		}
		n := t.Node(h)
		p := t.PathOf(h)
		name := n.ID
		if seen[n.ID] > 1 {
			name = p.String()
		}
		spec := Spec{
			Flag:     name,
			Node:     h,
			Path:     p,
			TypeName: n.TypeName,
			Multi:    IsCollection(n.TypeName),
			Help:     fmt.Sprintf("%s:%s", n.TypeName, n.ToolTip),
		}
		if !spec.Multi {
			spec.Choices = n.Choices
		}
		if _, dup := s.byFlag[name]; !dup {
			s.byFlag[name] = len(s.specs)
		}
		s.specs = append(s.specs, spec)
	}
	return s
}

// Specs returns the derived flags in document order.
func (s *Set) Specs() []Spec { return s.specs }

// Lookup returns the spec registered under flag.
func (s *Set) Lookup(flag string) (Spec, bool) {
	i, ok := s.byFlag[flag]
	if !ok {
		return Spec{}, false
	}
	return s.specs[i], true
}

// Register adds every spec to fs. A name already present in fs (a fixed
// flag or an earlier spec) is reported and skipped.
func (s *Set) Register(fs *pflag.FlagSet) []error {
	var errs []error
	for i := range s.specs {
		spec := &s.specs[i]
		if existing := fs.Lookup(spec.Flag); existing != nil {
			err := &FlagConflictError{Flag: spec.Flag, Path: spec.Path.String()}
			s.log.Warn("skipping conflicting flag",
				zap.String("flag", spec.Flag),
				zap.String("path", spec.Path.String()),
				zap.String("type", spec.TypeName))
			errs = append(errs, err)
			continue
		}
		fs.Var(newOccurrenceValue(spec.Multi, spec.Choices), spec.Flag, spec.Help)
	}
	return errs
}

// Supplied returns the specs whose flags were given on the command line,
// in document order, together with their occurrence groups.
func (s *Set) Supplied(fs *pflag.FlagSet) []Supplied {
	var out []Supplied
	for _, spec := range s.specs {
		groups, ok := Occurrences(fs, spec.Flag)
		if !ok {
			continue
		}
		// A skipped duplicate shares a name with a registered flag.
		if i := s.byFlag[spec.Flag]; s.specs[i].Node != spec.Node {
			continue
		}
		out = append(out, Supplied{Spec: spec, Groups: groups})
	}
	return out
}

// Supplied pairs a spec with the tokens given for it.
type Supplied struct {
	Spec
	Groups [][]string
}

// FlagConflictError reports a derived flag whose name is already taken.
type FlagConflictError struct {
	Flag string
	Path string
}

func (e *FlagConflictError) Error() string {
	return fmt.Sprintf("flag --%s for %s conflicts with an existing flag", e.Flag, e.Path)
}

// Is lets errors.Is match any FlagConflictError.
func (e *FlagConflictError) Is(target error) bool {
	_, ok := target.(*FlagConflictError)
	return ok
}

package mtz

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrSelector  = errors.New("invalid column selector")
	ErrSelection = errors.New("unable to select columns")
	ErrSignature = errors.New("unsupported column type signature")
)

// Selector picks columns out of a file: either a bare label list
// ("[F,SIGF]" or "F") or a full path ("/crystal/dataset/[F,SIGF]").
type Selector struct {
	Crystal string
	Dataset string
	Labels  []string
	Full    bool
}

// ParseSelector parses a column selector expression.
func ParseSelector(expr string) (Selector, error) {
	parts := strings.Split(strings.TrimPrefix(expr, "/"), "/")
	if len(parts) != 1 && len(parts) != 3 {
		return Selector{}, fmt.Errorf("%w: %q", ErrSelector, expr)
	}
	cols := strings.NewReplacer("[", "", "]", "", " ", "").Replace(parts[len(parts)-1])
	if cols == "" {
		return Selector{}, fmt.Errorf("%w: %q names no columns", ErrSelector, expr)
	}
	sel := Selector{Labels: strings.Split(cols, ",")}
	if len(parts) == 3 {
		sel.Full = true
		sel.Crystal, sel.Dataset = parts[0], parts[1]
	}
	return sel, nil
}

func (s Selector) matches(d Dataset) bool {
	return (s.Crystal == "*" || s.Crystal == d.Crystal) &&
		(s.Dataset == "*" || s.Dataset == d.Name)
}

// Content is the semantic type inferred from a column type signature.
type Content struct {
	Class  string // file class of the extracted data
	Flag   int    // content flag within the class, 1-based
	Labels []string

	// Suspect marks signatures whose mapping is carried over unconfirmed.
	Suspect bool
}

// Content signature label lists per file class, indexed by flag-1.
var contentSignatures = map[string][][]string{
	"CObsDataFile": {
		{"Iplus", "SIGIplus", "Iminus", "SIGIminus"},
		{"Fplus", "SIGFplus", "Fminus", "SIGFminus"},
		{"I", "SIGI"},
		{"F", "SIGF"},
	},
	"CPhsDataFile": {
		{"HLA", "HLB", "HLC", "HLD"},
		{"PHI", "FOM"},
	},
	"CFreeRDataFile": {
		{"FREER"},
	},
}

type typeCode struct {
	class   string
	flag    int
	suspect bool
}

// TODO: FQFQ and JQJQ are mapped to the anomalous observation types but
// carry no anomalous column codes; confirm against real split requests
// before relying on them.
var signatures = map[string]typeCode{
	"FQ":   {"CObsDataFile", 4, false},
	"JQ":   {"CObsDataFile", 3, false},
	"GLGL": {"CObsDataFile", 2, false},
	"FQFQ": {"CObsDataFile", 2, true},
	"KMKM": {"CObsDataFile", 1, false},
	"JQJQ": {"CObsDataFile", 1, true},
	"AAAA": {"CPhsDataFile", 1, false},
	"PW":   {"CPhsDataFile", 2, false},
	"I":    {"CFreeRDataFile", 1, false},
}

// Lookup maps a concatenated column type signature to its content type.
func Lookup(signature string) (Content, bool) {
	tc, ok := signatures[signature]
	if !ok {
		return Content{}, false
	}
	return Content{
		Class:   tc.class,
		Flag:    tc.flag,
		Labels:  contentSignatures[tc.class][tc.flag-1],
		Suspect: tc.suspect,
	}, true
}

// Result describes a file produced by Split.
type Result struct {
	Path      string
	Signature string
	Content
}

// Splitter extracts column subsets into new files.
type Splitter struct {
	log *zap.Logger
}

// NewSplitter returns a Splitter that logs through logger.
func NewSplitter(logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Splitter{log: logger}
}

// Split copies the H, K, L columns and the columns chosen by selector from
// src into a new file at dst, renaming them to the standard labels of the
// inferred content type.
func (s *Splitter) Split(src, selector, dst string) (Result, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return Result{}, err
	}
	in, err := ReadFile(src)
	if err != nil {
		return Result{}, err
	}

	picked := make([]int, 0, 3+len(sel.Labels))
	for _, l := range []string{"H", "K", "L"} {
		idx := in.ColumnIndex(l)
		if len(idx) == 0 {
			return Result{}, fmt.Errorf("%w: %s has no %s column", ErrSelection, src, l)
		}
		picked = append(picked, idx[0])
	}

	var signature strings.Builder
	for _, label := range sel.Labels {
		idx := in.ColumnIndex(label)
		if len(idx) == 1 {
			picked = append(picked, idx[0])
			signature.WriteString(in.Columns[idx[0]].Type)
			continue
		}
		if !sel.Full {
			return Result{}, fmt.Errorf("%w: %q is ambiguous in %s, use /crystal/dataset/[...]", ErrSelection, label, src)
		}
		for _, i := range idx {
			d, ok := in.Dataset(in.Columns[i].DatasetID)
			if ok && sel.matches(d) {
				picked = append(picked, i)
				signature.WriteString(in.Columns[i].Type)
				break
			}
		}
	}
	if len(picked)-3 != len(sel.Labels) {
		return Result{}, fmt.Errorf("%w: %s from %s", ErrSelection, selector, src)
	}

	content, ok := Lookup(signature.String())
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrSignature, signature.String())
	}
	if content.Suspect {
		s.log.Warn("column signature mapping is unconfirmed",
			zap.String("signature", signature.String()),
			zap.String("class", content.Class))
	}

	out := &File{
		Title:   in.Title,
		Cell:    in.Cell,
		NRefl:   in.NRefl,
		Records: in.Records,
		History: []string{fmt.Sprintf("MTZ file created from %s by i2run.", filepath.Base(src))},
	}
	out.Datasets = []Dataset{{ID: 0, Project: "HKL_base", Crystal: "HKL_base", Name: "HKL_base", Cell: in.Cell}}
	dataID := 0
	if len(in.Datasets) > 1 {
		last := in.Columns[picked[len(picked)-1]]
		d, _ := in.Dataset(last.DatasetID)
		d.ID = 1
		out.Datasets = append(out.Datasets, d)
		dataID = 1
	}

	labels := append([]string{"H", "K", "L"}, content.Labels...)
	if len(labels) != len(picked) {
		return Result{}, fmt.Errorf("%w: %q selects %d columns, %s expects %d",
			ErrSignature, signature.String(), len(picked)-3, content.Class, len(content.Labels))
	}
	for i, col := range picked {
		c := in.Columns[col]
		c.Label = labels[i]
		c.DatasetID = 0
		if i >= 3 {
			c.DatasetID = dataID
		}
		out.Columns = append(out.Columns, c)
	}

	out.Data = make([]float32, 0, in.NRefl*len(picked))
	for r := 0; r < in.NRefl; r++ {
		for _, col := range picked {
			out.Data = append(out.Data, in.Value(r, col))
		}
	}

	if err := WriteFile(dst, out); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", dst, err)
	}
	s.log.Debug("split columns",
		zap.String("src", src),
		zap.String("selector", selector),
		zap.String("dst", dst),
		zap.String("class", content.Class),
		zap.Int("contentFlag", content.Flag))
	return Result{Path: dst, Signature: signature.String(), Content: content}, nil
}

// Package inject assigns command-line values to the entities of a
// parameter tree.
package inject

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/mtz"
	"github.com/agentic-research/i2run/internal/params"
	"github.com/agentic-research/i2run/internal/schema"
)

// FileLookup is the slice of the project database that file references
// resolve against.
type FileLookup interface {
	// ProjectJobs returns the top-level jobs of a project ordered by job
	// number.
	ProjectJobs(ctx context.Context, projectID string) ([]api.JobRef, error)
	JobByNumber(ctx context.Context, projectID, number string) (api.JobRef, error)
	JobFiles(ctx context.Context, jobID, param string, role api.FileRole) ([]api.FileRecord, error)
	FileByID(ctx context.Context, id string) (api.FileRecord, error)
}

// ColumnSplitter extracts reflection columns into a new file.
type ColumnSplitter interface {
	Split(src, selector, dst string) (mtz.Result, error)
}

// Env is what special forms need beyond the entity they modify.
type Env struct {
	JobDir    string
	ProjectID string
	Files     FileLookup // nil when running without a project database
	Columns   ColumnSplitter
	Logger    *zap.Logger
}

// Injector applies flag values to entities.
type Injector struct {
	env Env
	log *zap.Logger
}

// New returns an Injector for env.
func New(env Env) *Injector {
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}
	if env.Columns == nil {
		env.Columns = mtz.NewSplitter(env.Logger)
	}
	return &Injector{env: env, log: env.Logger}
}

// assignment is the state of one flag's assignment.
type assignment struct {
	flag   string
	key    string
	hasKey bool
}

// Apply resolves flag against st and assigns groups to the matching entity
// of tree.
func (in *Injector) Apply(ctx context.Context, st *schema.Tree, tree *params.Tree, flag string, groups [][]string, multi bool) error {
	h, err := ResolveFlag(st, flag)
	if err != nil {
		return err
	}
	e, err := EntityAt(tree, st.PathOf(h))
	if err != nil {
		return err
	}
	return in.Assign(ctx, flag, e, groups, multi)
}

// Assign applies the token groups of one flag to target. For a list
// target, occurrence i of a multi flag fills element i, and the bare values
// of a single occurrence fill successive elements. The list grows as
// needed.
func (in *Injector) Assign(ctx context.Context, flag string, target params.Entity, groups [][]string, multi bool) error {
	groups = ExpandOccurrences(groups)
	in.log.Debug("assigning flag",
		zap.String("flag", flag),
		zap.String("entity", target.Name()),
		zap.Any("values", groups))

	a := &assignment{flag: flag}
	list, ok := target.(*params.List)
	if !ok {
		for _, tok := range flatten(groups) {
			if err := in.token(ctx, a, target, tok); err != nil {
				return err
			}
		}
		return nil
	}

	if !multi {
		return in.assignFlat(ctx, a, list, flatten(groups))
	}
	list.Grow(len(groups))
	for i, toks := range groups {
		for _, tok := range toks {
			if err := in.token(ctx, a, list.At(i), tok); err != nil {
				return err
			}
		}
	}
	return nil
}

// assignFlat spreads the tokens of a single occurrence over list. Each bare
// value starts the next element; property and quoted tokens apply to the
// current one.
func (in *Injector) assignFlat(ctx context.Context, a *assignment, list *params.List, toks []string) error {
	cur := -1
	for _, tok := range toks {
		if isBare(tok) || cur < 0 {
			cur++
		}
		list.Grow(cur + 1)
		if err := in.token(ctx, a, list.At(cur), tok); err != nil {
			return err
		}
	}
	return nil
}

func isQuoted(tok string) bool {
	return len(tok) >= 2 && strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`)
}

func isBare(tok string) bool {
	return !isQuoted(tok) && !strings.Contains(tok, "=")
}

func flatten(groups [][]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// token applies one expanded token: a quoted literal, a property
// expression, or a bare value.
func (in *Injector) token(ctx context.Context, a *assignment, e params.Entity, tok string) error {
	switch {
	case isQuoted(tok):
		v := tok[1 : len(tok)-1]
		if err := e.Set(v); err != nil {
			return in.rejected(a, e, v, err)
		}
		return nil
	case strings.Contains(tok, "="):
		name, value, _ := strings.Cut(tok, "=")
		return in.property(ctx, a, e, name, value)
	}
	return in.setValue(a, e, tok)
}

// property walks a slash-separated property path below e and assigns value
// at its end. Segments may carry an index, name[i], into list fields.
func (in *Injector) property(ctx context.Context, a *assignment, e params.Entity, name, value string) error {
	segs := strings.Split(name, "/")
	cur := e
	for i, seg := range segs {
		id, idx, err := splitIndex(seg)
		if err != nil {
			return &AssignmentError{Flag: a.flag, Entity: params.Describe(cur), Value: name + "=" + value, Err: err}
		}
		if handle, ok := lookupForm(cur, id); ok {
			if err := handle(ctx, in, a, cur, value); err != nil {
				return err
			}
			continue
		}

		next, ok := cur.Field(id)
		if !ok {
			return &PathError{Flag: a.flag, Segment: seg, Err: ErrUnknownSegment}
		}
		if list, ok := next.(*params.List); ok {
			// An unindexed list segment addresses the first element.
			idx = max(idx, 0)
			list.Grow(idx + 1)
			next = list.At(idx)
		}
		cur = next
		if i == len(segs)-1 {
			return in.setValue(a, cur, value)
		}
	}
	return nil
}

// splitIndex parses "name[i]". idx is -1 when no index is given.
func splitIndex(seg string) (string, int, error) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, -1, nil
	}
	idx, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil || idx < 0 {
		return "", 0, ErrMalformed
	}
	return seg[:open], idx, nil
}

// setValue assigns a bare value. File references take it as a path.
func (in *Injector) setValue(a *assignment, e params.Entity, v string) error {
	if f, ok := e.(*params.FileRef); ok {
		p, err := normalizePath(v)
		if err != nil {
			return in.rejected(a, e, v, err)
		}
		f.SetFullPath(p)
		return nil
	}
	if err := e.Set(v); err != nil {
		return in.rejected(a, e, v, err)
	}
	return nil
}

func (in *Injector) rejected(a *assignment, e params.Entity, v string, err error) error {
	in.log.Warn("value rejected",
		zap.String("flag", a.flag),
		zap.String("entity", params.Describe(e)),
		zap.String("value", v),
		zap.Error(err))
	return &AssignmentError{Flag: a.flag, Entity: params.Describe(e), Value: v, Err: err}
}

// normalizePath expands environment references and makes p absolute.
// Unknown variables are left as written.
func normalizePath(p string) (string, error) {
	p = os.Expand(p, func(k string) string {
		if v, ok := os.LookupEnv(k); ok {
			return v
		}
		return "${" + k + "}"
	})
	return filepath.Abs(p)
}

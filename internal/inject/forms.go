package inject

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/params"
)

// formHandler consumes a property segment that is not a plain field.
type formHandler func(ctx context.Context, in *Injector, a *assignment, e params.Entity, value string) error

type formKey struct {
	variant params.Variant
	kind    int // params.FileKind, or anyKind
	segment string
}

const anyKind = -1

var forms = map[formKey]formHandler{
	{params.VariantDict, anyKind, "key"}:                          dictKey,
	{params.VariantDict, anyKind, "value"}:                        dictValue,
	{params.VariantSelection, anyKind, "text"}:                    selectionText,
	{params.VariantFile, int(params.FileAsuContent), "seqFile"}:   asuSeqFile,
	{params.VariantFile, int(params.FileMiniMtz), "columnLabels"}: miniMtzColumns,
	{params.VariantFile, anyKind, "fileUse"}:                      fileUse,
	{params.VariantFile, anyKind, "fullPath"}:                     fullPath,
	{params.VariantFile, anyKind, "dbFileId"}:                     dbFileID,
}

// lookupForm finds the handler for segment on e, preferring a file-kind
// specific entry over one for every file.
func lookupForm(e params.Entity, segment string) (formHandler, bool) {
	if f, ok := e.(*params.FileRef); ok {
		if h, ok := forms[formKey{params.VariantFile, int(f.Kind()), segment}]; ok {
			return h, true
		}
	}
	h, ok := forms[formKey{e.Variant(), anyKind, segment}]
	return h, ok
}

func dictKey(_ context.Context, _ *Injector, a *assignment, _ params.Entity, value string) error {
	a.key, a.hasKey = value, true
	return nil
}

func dictValue(_ context.Context, in *Injector, a *assignment, e params.Entity, value string) error {
	if !a.hasKey {
		return in.rejected(a, e, value, fmt.Errorf("%w: value before key", ErrMalformed))
	}
	e.(*params.Dict).Put(a.key, value)
	return nil
}

func selectionText(_ context.Context, _ *Injector, _ *assignment, e params.Entity, value string) error {
	e.(*params.Selection).SetText(value)
	return nil
}

// asuSeqFile reads a sequence file into a new entry of the ASU content
// file, creating that file in the job directory if the reference is unset.
func asuSeqFile(_ context.Context, in *Injector, a *assignment, e params.Entity, value string) error {
	f := e.(*params.FileRef)
	src, err := normalizePath(value)
	if err != nil {
		return in.rejected(a, e, value, err)
	}
	seq, err := params.ReadSequenceFile(src)
	if err != nil {
		return in.rejected(a, e, value, err)
	}

	if f.FullPath() == "" {
		base := f.Name()[strings.LastIndexByte(f.Name(), '.')+1:]
		name := strings.NewReplacer("[", "_", "]", "").Replace(base) + params.AsuContentSuffix
		p := params.AvailableName(filepath.Join(in.env.JobDir, name))
		if err := params.CreateAsuContentFile(p); err != nil {
			return in.rejected(a, e, value, err)
		}
		f.SetFullPath(p)
	}
	if err := f.LoadContent(); err != nil {
		return in.rejected(a, e, value, err)
	}

	seqs := f.SeqList()
	entry := seqs.Append().(*params.Record)
	if err := params.SetSeqEntry(entry, 1, seq); err != nil {
		return in.rejected(a, e, value, err)
	}
	if err := f.SaveContent(); err != nil {
		return in.rejected(a, e, value, err)
	}
	in.log.Debug("added sequence to asu content",
		zap.String("file", f.FullPath()),
		zap.String("sequence", seq.Identifier),
		zap.Int("entries", seqs.Len()))
	return nil
}

// miniMtzColumns splits the selected columns of the referenced reflection
// file into a new file in the job directory and rebinds the reference.
func miniMtzColumns(_ context.Context, in *Injector, a *assignment, e params.Entity, value string) error {
	f := e.(*params.FileRef)
	if f.FullPath() == "" {
		return in.rejected(a, e, value, errors.New("columnLabels given before the file path"))
	}
	dst := params.AvailableName(filepath.Join(in.env.JobDir, filepath.Base(f.FullPath())))
	res, err := in.env.Columns.Split(f.FullPath(), value, dst)
	if err != nil {
		return in.rejected(a, e, value, err)
	}
	f.SetFullPath(res.Path)
	f.ResetContentFlag()
	f.SetContentFlag(res.Flag)
	return nil
}

func fileUse(ctx context.Context, in *Injector, a *assignment, e params.Entity, value string) error {
	rec, err := in.ResolveFileUse(ctx, value)
	if err != nil {
		return err
	}
	f := e.(*params.FileRef)
	f.SetDBFileID(rec.ID)
	if rec.Path != "" {
		f.SetFullPath(rec.Path)
	}
	return nil
}

func fullPath(_ context.Context, in *Injector, a *assignment, e params.Entity, value string) error {
	return in.setValue(a, e, value)
}

func dbFileID(ctx context.Context, in *Injector, _ *assignment, e params.Entity, value string) error {
	f := e.(*params.FileRef)
	f.SetDBFileID(value)
	if in.env.Files == nil {
		return nil
	}
	rec, err := in.env.Files.FileByID(ctx, value)
	if err != nil {
		in.log.Debug("file id not in database", zap.String("id", value), zap.Error(err))
		return nil
	}
	if rec.Path != "" {
		f.SetFullPath(rec.Path)
	}
	return nil
}

// ResolveFileUse resolves "job.param" or "job.param[i]" to a file record.
// A negative job number counts back from the current job, which is the
// last job of the project: -1 is the job before it. Output files of the
// job are searched before its input files.
func (in *Injector) ResolveFileUse(ctx context.Context, ref string) (api.FileRecord, error) {
	if in.env.Files == nil {
		return api.FileRecord{}, &LookupError{Ref: ref, Err: ErrNoDatabase}
	}
	dot := strings.LastIndexByte(ref, '.')
	if dot <= 0 || dot == len(ref)-1 {
		return api.FileRecord{}, &LookupError{Ref: ref, Err: ErrMalformed}
	}
	number := ref[:dot]
	param, idx, err := splitIndex(ref[dot+1:])
	if err != nil {
		return api.FileRecord{}, &LookupError{Ref: ref, Err: err}
	}
	if idx < 0 {
		idx = 0
	}

	if n, err := strconv.Atoi(number); err == nil && n < 0 {
		jobs, err := in.env.Files.ProjectJobs(ctx, in.env.ProjectID)
		if err != nil {
			return api.FileRecord{}, &LookupError{Ref: ref, Err: err}
		}
		pos := len(jobs) + n - 1
		if pos < 0 || pos >= len(jobs) {
			return api.FileRecord{}, &LookupError{Ref: ref, Err: fmt.Errorf("job offset %d out of range for %d jobs", n, len(jobs))}
		}
		number = jobs[pos].Number
	}

	job, err := in.env.Files.JobByNumber(ctx, in.env.ProjectID, number)
	if err != nil {
		return api.FileRecord{}, &LookupError{Ref: ref, Err: err}
	}
	for _, role := range []api.FileRole{api.FileRoleOut, api.FileRoleIn} {
		files, err := in.env.Files.JobFiles(ctx, job.ID, param, role)
		if err != nil {
			return api.FileRecord{}, &LookupError{Ref: ref, Err: err}
		}
		if idx < len(files) {
			in.log.Debug("resolved file use",
				zap.String("ref", ref),
				zap.String("job", job.Number),
				zap.String("file", files[idx].ID))
			return files[idx], nil
		}
	}
	return api.FileRecord{}, &LookupError{Ref: ref, Err: fmt.Errorf("%w: job %s has no %s[%d]", ErrNoFile, job.Number, param, idx)}
}

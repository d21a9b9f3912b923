// Package jobs prepares, runs and follows task jobs, either directly in a
// working directory or through a project database.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/params"
	"github.com/agentic-research/i2run/internal/projectdb"
)

// DefaultPollInterval is how often a tracked job's completion is checked.
const DefaultPollInterval = 4 * time.Second

var (
	ErrTimeout    = errors.New("timed out waiting for job")
	ErrNoDatabase = errors.New("tracked mode needs a project database")
)

// Executor runs a task to completion.
type Executor interface {
	Run(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error)
}

// Database is the project store a tracked job is recorded in.
type Database interface {
	CreateProject(ctx context.Context, name, path string) (api.Project, error)
	ProjectByName(ctx context.Context, name string) (api.Project, error)
	ResetLastJobNumber(ctx context.Context, projectID string) error
	CreateJob(ctx context.Context, projectID, task string) (api.JobRef, error)
	Job(ctx context.Context, id string) (api.JobRef, error)
	SetJobStatus(ctx context.Context, jobID string, status api.Status) error
	SaveParams(ctx context.Context, jobID, path string) error
	ImportFile(ctx context.Context, job api.JobRef, param, src, annotation string) (api.FileRecord, error)
	RecordFile(ctx context.Context, rec api.FileRecord) (api.FileRecord, error)
	FinishedSince(ctx context.Context, projectID string, since time.Time) ([]api.FinishedJob, error)
	Close() error
}

// Controller accepts tracked jobs for execution and returns immediately.
type Controller interface {
	Submit(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) error
}

// ExecutionError reports a job that ended without success.
type ExecutionError struct {
	Task     string
	Job      string // job number, empty for untracked runs
	Status   api.Status
	ExitCode int
	Report   string
}

func (e *ExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s", e.Task)
	if e.Job != "" {
		fmt.Fprintf(&b, " (job %s)", e.Job)
	}
	fmt.Fprintf(&b, " %s", e.Status)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Report != "" {
		fmt.Fprintf(&b, ": %s", e.Report)
	}
	return b.String()
}

// Options configure an Orchestrator.
type Options struct {
	Executor   Executor
	Database   Database   // nil for untracked runs
	Controller Controller // defaults to a LocalController over Executor and Database
	Logger     *zap.Logger

	PollInterval time.Duration // defaults to DefaultPollInterval
	Timeout      time.Duration // zero waits forever

	// Wake, when set, triggers an immediate completion check.
	Wake <-chan struct{}
}

// Orchestrator drives one job through its lifecycle.
type Orchestrator struct {
	opts Options
	log  *zap.Logger
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Controller == nil && opts.Database != nil && opts.Executor != nil {
		opts.Controller = NewLocalController(opts.Executor, opts.Database, opts.Logger)
	}
	return &Orchestrator{opts: opts, log: opts.Logger}
}

// Prepare readies the job's working directory. In tracked mode it creates
// the project when a project path is given, then creates the job record
// and points the descriptor at the job's directory.
func (o *Orchestrator) Prepare(ctx context.Context, job *api.JobDescriptor) error {
	if job.Mode == api.ModeUntracked {
		dir := job.WorkDir
		if dir == "" {
			dir = "."
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		job.WorkDir = abs
		return os.MkdirAll(abs, 0o755)
	}

	db := o.opts.Database
	if db == nil {
		return ErrNoDatabase
	}
	if job.ProjectPath != "" {
		_, err := db.CreateProject(ctx, job.ProjectName, job.ProjectPath)
		switch {
		case errors.Is(err, projectdb.ErrProjectExists):
			o.log.Info("project already exists", zap.String("project", job.ProjectName))
		case err != nil:
			return fmt.Errorf("create project %s: %w", job.ProjectName, err)
		}
	}
	p, err := db.ProjectByName(ctx, job.ProjectName)
	if err != nil {
		return err
	}
	if err := db.ResetLastJobNumber(ctx, p.ID); err != nil {
		return fmt.Errorf("reset job counter: %w", err)
	}
	ref, err := db.CreateJob(ctx, p.ID, job.Task)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	job.ProjectID = p.ID
	job.ProjectPath = p.Path
	job.JobID = ref.ID
	job.JobNumber = ref.Number
	job.WorkDir = ref.Dir
	o.log.Info("prepared job",
		zap.String("project", p.Name),
		zap.String("job", ref.Number),
		zap.String("dir", ref.Dir))
	return nil
}

// Run executes a prepared job and reports its result. Tracked runs always
// close the database before returning.
func (o *Orchestrator) Run(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error) {
	if job.Mode == api.ModeUntracked {
		return o.runUntracked(ctx, job, tree)
	}
	if o.opts.Database == nil || o.opts.Controller == nil {
		return api.Result{}, ErrNoDatabase
	}
	defer func() {
		if w, ok := o.opts.Controller.(interface{ Wait() }); ok {
			w.Wait()
		}
		if err := o.opts.Database.Close(); err != nil {
			o.log.Warn("failed to close project database", zap.Error(err))
		}
	}()
	return o.runTracked(ctx, job, tree)
}

func (o *Orchestrator) runUntracked(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error) {
	res, err := o.opts.Executor.Run(ctx, job, tree)
	if err != nil {
		return res, err
	}
	if !res.Status.Succeeded() {
		return res, &ExecutionError{Task: job.Task, Status: res.Status, ExitCode: res.ExitCode, Report: res.Report}
	}
	o.log.Info("job finished", zap.String("task", job.Task), zap.String("dir", job.WorkDir))
	return res, nil
}

func (o *Orchestrator) runTracked(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error) {
	db := o.opts.Database
	if err := o.saveParams(ctx, job, tree); err != nil {
		return api.Result{}, err
	}
	ref, err := db.Job(ctx, job.JobID)
	if err != nil {
		return api.Result{}, err
	}
	imported, err := o.importFiles(ctx, ref, job.ProjectPath, tree)
	if err != nil {
		return api.Result{}, err
	}
	if err := o.gleanInputs(ctx, ref, tree, imported); err != nil {
		return api.Result{}, err
	}
	if err := o.saveParams(ctx, job, tree); err != nil {
		return api.Result{}, err
	}

	since := time.Now()
	if err := o.opts.Controller.Submit(ctx, job, tree); err != nil {
		return api.Result{}, fmt.Errorf("submit job %s: %w", job.JobNumber, err)
	}
	o.log.Info("submitted job", zap.String("task", job.Task), zap.String("job", job.JobNumber))
	return o.poll(ctx, job, since)
}

func (o *Orchestrator) saveParams(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) error {
	p, err := tree.Save(job.WorkDir, params.Header{
		TaskName:  job.Task,
		JobID:     job.JobID,
		JobNumber: job.JobNumber,
		ProjectID: job.ProjectID,
	})
	if err != nil {
		return err
	}
	return o.opts.Database.SaveParams(ctx, job.JobID, p)
}

// importFiles copies input files from outside the project into it and
// rebinds their references. It returns the references it imported.
func (o *Orchestrator) importFiles(ctx context.Context, job api.JobRef, root string, tree *params.Tree) (map[*params.FileRef]bool, error) {
	imported := map[*params.FileRef]bool{}
	files := tree.Files("inputData")
	for _, param := range slices.Sorted(maps.Keys(files)) {
		for _, f := range files[param] {
			if f.DBFileID() != "" || f.FullPath() == "" || within(root, f.FullPath()) {
				continue
			}
			rec, err := o.opts.Database.ImportFile(ctx, job, param, f.FullPath(), f.Annotation())
			if err != nil {
				return nil, err
			}
			f.SetDBFileID(rec.ID)
			f.SetFullPath(rec.Path)
			imported[f] = true
		}
	}
	return imported, nil
}

// gleanInputs records the job's use of every other bound input file.
func (o *Orchestrator) gleanInputs(ctx context.Context, job api.JobRef, tree *params.Tree, skip map[*params.FileRef]bool) error {
	files := tree.Files("inputData")
	for _, param := range slices.Sorted(maps.Keys(files)) {
		for _, f := range files[param] {
			if skip[f] || f.FullPath() == "" {
				continue
			}
			if _, err := o.opts.Database.RecordFile(ctx, api.FileRecord{
				JobID:      job.ID,
				Param:      param,
				Role:       api.FileRoleIn,
				Path:       f.FullPath(),
				Annotation: f.Annotation(),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// poll waits for the submitted job to reach a terminal state, checking the
// database every poll interval or on wake. Other jobs finishing meanwhile
// are logged.
func (o *Orchestrator) poll(ctx context.Context, job *api.JobDescriptor, since time.Time) (api.Result, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := o.opts.Database.FinishedSince(ctx, job.ProjectID, since)
		if err != nil && ctx.Err() == nil {
			return api.Result{}, fmt.Errorf("poll job %s: %w", job.JobNumber, err)
		}
		for _, f := range done {
			if f.Finished.After(since) {
				since = f.Finished
			}
			o.log.Info("job finished",
				zap.String("job", f.Number),
				zap.String("task", f.Task),
				zap.Stringer("status", f.Status))
			if f.ID == job.JobID {
				return o.result(job, f.Status)
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return api.Result{Status: api.StatusUnknown}, fmt.Errorf("%w %s after %s", ErrTimeout, job.JobNumber, o.opts.Timeout)
			}
			return api.Result{Status: api.StatusUnknown}, ctx.Err()
		case <-ticker.C:
		case <-o.opts.Wake:
		}
	}
}

func (o *Orchestrator) result(job *api.JobDescriptor, status api.Status) (api.Result, error) {
	res := api.Result{Status: status}
	if r, ok := o.opts.Controller.(interface {
		Result(jobID string) (api.Result, bool)
	}); ok {
		if got, ok := r.Result(job.JobID); ok {
			res = got
			res.Status = status
		}
	}
	if !status.Succeeded() {
		return res, &ExecutionError{
			Task:     job.Task,
			Job:      job.JobNumber,
			Status:   status,
			ExitCode: res.ExitCode,
			Report:   res.Report,
		}
	}
	return res, nil
}

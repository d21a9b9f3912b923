package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/logging"
	"github.com/agentic-research/i2run/internal/params"
)

// Log files written to the job directory.
const (
	StdoutFile = "stdout.txt"
	StderrFile = "stderr.txt"
)

const reportTail = 2048

// Runner executes tasks from a catalog.
type Runner struct {
	catalog *Catalog
}

// NewRunner returns a Runner over catalog.
func NewRunner(catalog *Catalog) *Runner {
	return &Runner{catalog: catalog}
}

// Run writes the parameter file into the job's working directory, runs the
// task's command there and binds the outputs it declares. A non-zero exit
// is reported through the result; the error is for failures to run at all.
func (r *Runner) Run(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error) {
	log := logging.FromContext(ctx).With(zap.String("task", job.Task))
	failed := api.Result{Status: api.StatusFailed, ExitCode: -1}

	task, err := r.catalog.Lookup(job.Task)
	if err != nil {
		return failed, err
	}
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return failed, fmt.Errorf("create working directory: %w", err)
	}
	header := params.Header{
		TaskName:  job.Task,
		JobID:     job.JobID,
		JobNumber: job.JobNumber,
		ProjectID: job.ProjectID,
	}
	paramsPath, err := tree.Save(job.WorkDir, header)
	if err != nil {
		return failed, err
	}

	ectx := evalContext(tree, JobVars{
		Dir:    job.WorkDir,
		Task:   job.Task,
		Number: job.JobNumber,
		Params: paramsPath,
	})
	command, err := evalString(task.Command, ectx)
	if err != nil {
		return failed, fmt.Errorf("task %s command: %w", task.Name, err)
	}
	if command == "" {
		return failed, fmt.Errorf("task %s has an empty command", task.Name)
	}
	args, err := evalArgs(task.Args, ectx)
	if err != nil {
		return failed, fmt.Errorf("task %s args: %w", task.Name, err)
	}
	env, err := evalEnv(task.Env, ectx)
	if err != nil {
		return failed, fmt.Errorf("task %s env: %w", task.Name, err)
	}

	stdout, err := os.Create(filepath.Join(job.WorkDir, StdoutFile))
	if err != nil {
		return failed, err
	}
	defer func() { _ = stdout.Close() }()
	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = job.WorkDir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	log.Info("running task", zap.String("command", command), zap.Strings("args", args))
	runErr := cmd.Run()
	if werr := os.WriteFile(filepath.Join(job.WorkDir, StderrFile), stderr.Bytes(), 0o644); werr != nil {
		log.Warn("failed to write stderr log", zap.Error(werr))
	}

	res := api.Result{Status: api.StatusFinished}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		res.Status = api.StatusFailed
		res.ExitCode = exitErr.ExitCode()
		res.Report = tail(stderr.String(), reportTail)
	case ctx.Err() != nil:
		return api.Result{Status: api.StatusInterrupted, ExitCode: -1}, ctx.Err()
	default:
		return failed, fmt.Errorf("run %s: %w", command, runErr)
	}

	if res.Status == api.StatusFinished {
		if err := bindOutputs(task, tree, job.WorkDir, ectx, log); err != nil {
			return failed, err
		}
		if _, err := tree.Save(job.WorkDir, header); err != nil {
			return failed, err
		}
	}
	log.Info("task ended", zap.Stringer("status", res.Status), zap.Int("exit", res.ExitCode))
	return res, nil
}

// bindOutputs points each declared output parameter at its produced file.
// Relative paths are taken from dir. Outputs whose file was not produced
// are left unset.
func bindOutputs(task *Task, tree *params.Tree, dir string, ectx *hcl.EvalContext, log *zap.Logger) error {
	out, ok := tree.Container("outputData")
	if !ok {
		return nil
	}
	for _, o := range task.Outputs {
		p, err := evalString(o.Path, ectx)
		if err != nil {
			return fmt.Errorf("output %s path: %w", o.Param, err)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			log.Warn("declared output not produced", zap.String("param", o.Param), zap.String("path", p))
			continue
		}
		e, ok := out.Field(o.Param)
		if !ok {
			return fmt.Errorf("output %s is not a parameter of %s", o.Param, tree.Task)
		}
		switch v := e.(type) {
		case *params.FileRef:
			v.SetFullPath(p)
		case *params.List:
			f, ok := v.Append().(*params.FileRef)
			if !ok {
				return fmt.Errorf("output %s does not hold files", o.Param)
			}
			f.SetFullPath(p)
		default:
			return fmt.Errorf("output %s is a %s, not a file", o.Param, e.TypeName())
		}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package jobs

import (
	"context"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/logging"
	"github.com/agentic-research/i2run/internal/params"
)

// LocalController runs submitted jobs in goroutines of this process and
// records their progress in the project database.
type LocalController struct {
	exec Executor
	db   Database
	log  *zap.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	results map[string]api.Result
}

// NewLocalController returns a controller running jobs with exec.
func NewLocalController(exec Executor, db Database, logger *zap.Logger) *LocalController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalController{exec: exec, db: db, log: logger, results: map[string]api.Result{}}
}

// Submit queues the job and starts it. Cancelling ctx interrupts the
// running process; status updates are still recorded.
func (c *LocalController) Submit(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) error {
	if err := c.db.SetJobStatus(ctx, job.JobID, api.StatusQueued); err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, job, tree)
	}()
	return nil
}

func (c *LocalController) run(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) {
	log := c.log.With(zap.String("job", job.JobNumber), zap.String("task", job.Task))
	record := context.WithoutCancel(ctx)

	if err := c.db.SetJobStatus(record, job.JobID, api.StatusRunning); err != nil {
		log.Error("failed to mark job running", zap.Error(err))
	}
	res, err := c.exec.Run(logging.WithLogger(ctx, log), job, tree)
	if err != nil {
		log.Error("job failed to run", zap.Error(err))
		if res.Status == api.StatusUnknown || res.Status.Succeeded() {
			res.Status = api.StatusFailed
		}
		if res.Report == "" {
			res.Report = err.Error()
		}
	}
	if res.Status.Succeeded() {
		c.gleanOutputs(record, job, tree, log)
	}

	c.mu.Lock()
	c.results[job.JobID] = res
	c.mu.Unlock()

	if err := c.db.SetJobStatus(record, job.JobID, res.Status); err != nil {
		log.Error("failed to record job status", zap.Error(err))
	}
}

// gleanOutputs records the files the job produced so later jobs can refer
// to them.
func (c *LocalController) gleanOutputs(ctx context.Context, job *api.JobDescriptor, tree *params.Tree, log *zap.Logger) {
	files := tree.Files("outputData")
	for _, param := range slices.Sorted(maps.Keys(files)) {
		for _, f := range files[param] {
			rec, err := c.db.RecordFile(ctx, api.FileRecord{
				JobID:      job.JobID,
				Param:      param,
				Role:       api.FileRoleOut,
				Path:       f.FullPath(),
				Annotation: f.Annotation(),
			})
			if err != nil {
				log.Error("failed to record output file", zap.String("param", param), zap.Error(err))
				continue
			}
			f.SetDBFileID(rec.ID)
		}
	}
}

// Result returns the executor result of a finished job.
func (c *LocalController) Result(jobID string) (api.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[jobID]
	return r, ok
}

// Wait blocks until every submitted job has ended.
func (c *LocalController) Wait() {
	c.wg.Wait()
}

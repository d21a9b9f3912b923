package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/params"
	"github.com/agentic-research/i2run/internal/projectdb"
	"github.com/agentic-research/i2run/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const refineDoc = `<ccp4i2><ccp4i2_body id="refine">
<container id="inputData">
  <content id="XYZIN"><className>CPdbDataFile</className></content>
</container>
<container id="outputData">
  <content id="XYZOUT"><className>CPdbDataFile</className></content>
</container>
</ccp4i2_body></ccp4i2>`

func refineTree(t *testing.T) *params.Tree {
	t.Helper()
	st, err := schema.Parse(strings.NewReader(refineDoc), "refine.def.xml")
	require.NoError(t, err)
	return params.NewTree(st, params.NewRegistry(zaptest.NewLogger(t)))
}

func fileAt(t *testing.T, tree *params.Tree, path string) *params.FileRef {
	t.Helper()
	e, ok := tree.At(schema.ParsePath(path))
	require.True(t, ok, path)
	return e.(*params.FileRef)
}

// fakeExecutor writes XYZOUT.pdb into the job directory and binds it.
type fakeExecutor struct {
	result api.Result
	err    error
	block  chan struct{}
}

func (e *fakeExecutor) Run(ctx context.Context, job *api.JobDescriptor, tree *params.Tree) (api.Result, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return api.Result{Status: api.StatusInterrupted}, ctx.Err()
		}
	}
	if e.err != nil || !e.result.Status.Succeeded() {
		return e.result, e.err
	}
	out := filepath.Join(job.WorkDir, "XYZOUT.pdb")
	if err := os.WriteFile(out, []byte("ATOM\n"), 0o644); err != nil {
		return api.Result{}, err
	}
	e2, _ := tree.At(schema.ParsePath("outputData.XYZOUT"))
	e2.(*params.FileRef).SetFullPath(out)
	return e.result, nil
}

func openDB(t *testing.T) (*projectdb.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "database.sqlite")
	db, err := projectdb.Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return db, path
}

func TestUntracked(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "work")

	o := New(Options{Executor: &fakeExecutor{result: api.Result{Status: api.StatusFinished}}, Logger: zaptest.NewLogger(t)})
	job := &api.JobDescriptor{Task: "refine", WorkDir: dir}
	require.NoError(t, o.Prepare(ctx, job))
	assert.DirExists(t, dir)

	res, err := o.Run(ctx, job, refineTree(t))
	require.NoError(t, err)
	assert.Equal(t, api.StatusFinished, res.Status)

	o = New(Options{Executor: &fakeExecutor{result: api.Result{Status: api.StatusFailed, ExitCode: 2, Report: "bad"}}})
	_, err = o.Run(ctx, job, refineTree(t))
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 2, ee.ExitCode)
	assert.Empty(t, ee.Job)
}

func TestTracked_RunsImportsAndGleans(t *testing.T) {
	ctx := context.Background()
	db, dbPath := openDB(t)
	projectDir := t.TempDir()

	src := filepath.Join(t.TempDir(), "start.pdb")
	require.NoError(t, os.WriteFile(src, []byte("ATOM\n"), 0o644))
	tree := refineTree(t)
	fileAt(t, tree, "inputData.XYZIN").SetFullPath(src)

	o := New(Options{
		Executor:     &fakeExecutor{result: api.Result{Status: api.StatusFinished}},
		Database:     db,
		Logger:       zaptest.NewLogger(t),
		PollInterval: 10 * time.Millisecond,
	})
	job := &api.JobDescriptor{Task: "refine", Mode: api.ModeTracked, ProjectName: "lyso", ProjectPath: projectDir}
	require.NoError(t, o.Prepare(ctx, job))
	assert.Equal(t, "1", job.JobNumber)
	assert.Equal(t, filepath.Join(projectDir, projectdb.JobsDir, "job_1"), job.WorkDir)

	res, err := o.Run(ctx, job, tree)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFinished, res.Status)

	xyzin := fileAt(t, tree, "inputData.XYZIN")
	assert.Equal(t, filepath.Join(projectDir, projectdb.ImportedDir, "start.pdb"), xyzin.FullPath())
	assert.NotEmpty(t, xyzin.DBFileID())
	assert.FileExists(t, filepath.Join(job.WorkDir, params.ParamsFile))

	db, err = projectdb.Open(dbPath, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ref, err := db.Job(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFinished, ref.Status)
	outs, err := db.JobFiles(ctx, job.JobID, "XYZOUT", api.FileRoleOut)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, filepath.Join(job.WorkDir, "XYZOUT.pdb"), outs[0].Path)
	ins, err := db.JobFiles(ctx, job.JobID, "XYZIN", api.FileRoleIn)
	require.NoError(t, err)
	require.Len(t, ins, 1, "imported files are not gleaned twice")

	saved, err := db.Params(ctx, job.JobID)
	require.NoError(t, err)
	assert.Contains(t, saved, "CCP4_IMPORTED_FILES")
}

func TestTracked_FailureAndExistingProject(t *testing.T) {
	ctx := context.Background()
	db, dbPath := openDB(t)
	projectDir := t.TempDir()

	_, err := db.CreateProject(ctx, "lyso", projectDir)
	require.NoError(t, err)

	o := New(Options{
		Executor:     &fakeExecutor{result: api.Result{Status: api.StatusFailed, ExitCode: 7, Report: "segfault"}},
		Database:     db,
		Logger:       zaptest.NewLogger(t),
		PollInterval: 10 * time.Millisecond,
	})
	job := &api.JobDescriptor{Task: "refine", Mode: api.ModeTracked, ProjectName: "lyso", ProjectPath: projectDir}
	require.NoError(t, o.Prepare(ctx, job), "an existing project is reused")

	res, err := o.Run(ctx, job, refineTree(t))
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "1", ee.Job)
	assert.Equal(t, api.StatusFailed, ee.Status)
	assert.Equal(t, 7, ee.ExitCode)
	assert.Equal(t, "segfault", res.Report)

	db, err = projectdb.Open(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	outs, err := db.JobFiles(ctx, job.JobID, "XYZOUT", api.FileRoleOut)
	require.NoError(t, err)
	assert.Empty(t, outs)
}

// idleController accepts jobs and never runs them.
type idleController struct{ submitted int }

func (c *idleController) Submit(context.Context, *api.JobDescriptor, *params.Tree) error {
	c.submitted++
	return nil
}

func preparedTracked(t *testing.T, o *Orchestrator) *api.JobDescriptor {
	t.Helper()
	job := &api.JobDescriptor{Task: "refine", Mode: api.ModeTracked, ProjectName: "p", ProjectPath: t.TempDir()}
	require.NoError(t, o.Prepare(context.Background(), job))
	return job
}

func TestPoll_Timeout(t *testing.T) {
	db, _ := openDB(t)
	ctrl := &idleController{}
	o := New(Options{
		Database:     db,
		Controller:   ctrl,
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	job := preparedTracked(t, o)

	_, err := o.Run(context.Background(), job, refineTree(t))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, ctrl.submitted)
}

func TestPoll_Cancel(t *testing.T) {
	db, _ := openDB(t)
	o := New(Options{Database: db, Controller: &idleController{}, PollInterval: time.Hour})
	job := preparedTracked(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := o.Run(ctx, job, refineTree(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancelInterruptsLocalJob(t *testing.T) {
	db, dbPath := openDB(t)
	exec := &fakeExecutor{block: make(chan struct{})}
	o := New(Options{Executor: exec, Database: db, PollInterval: 5 * time.Millisecond})
	job := preparedTracked(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := o.Run(ctx, job, refineTree(t))
	assert.True(t, errors.Is(err, context.Canceled), err)

	db, err = projectdb.Open(dbPath, nil)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ref, err := db.Job(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, api.StatusInterrupted, ref.Status)
}

// wakingController finishes the job itself and signals the wake channel.
type wakingController struct {
	db   Database
	wake chan struct{}
}

func (c *wakingController) Submit(ctx context.Context, job *api.JobDescriptor, _ *params.Tree) error {
	if err := c.db.SetJobStatus(ctx, job.JobID, api.StatusFinished); err != nil {
		return err
	}
	c.wake <- struct{}{}
	return nil
}

func TestPoll_WakeSkipsInterval(t *testing.T) {
	db, _ := openDB(t)
	wake := make(chan struct{}, 1)
	o := New(Options{
		Database:     db,
		Controller:   &wakingController{db: db, wake: wake},
		PollInterval: time.Hour,
		Timeout:      5 * time.Second,
		Wake:         wake,
	})
	job := preparedTracked(t, o)

	start := time.Now()
	res, err := o.Run(context.Background(), job, refineTree(t))
	require.NoError(t, err)
	assert.Equal(t, api.StatusFinished, res.Status)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWatchDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "database.sqlite")
	w, err := WatchDatabase(dbPath, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("x"), 0o644))

	select {
	case <-w.Wake():
	case <-time.After(5 * time.Second):
		t.Fatal("no wake-up after database write")
	}
	require.NoError(t, w.Close())
}

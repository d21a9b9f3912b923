package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/cliargs"
	"github.com/agentic-research/i2run/internal/executor"
	"github.com/agentic-research/i2run/internal/inject"
	"github.com/agentic-research/i2run/internal/jobs"
	"github.com/agentic-research/i2run/internal/params"
	"github.com/agentic-research/i2run/internal/projectdb"
	"github.com/agentic-research/i2run/internal/schema"
)

// runFlags are the fixed flags accepted next to the task's own.
type runFlags struct {
	projectName  string
	projectPath  string
	dbFile       string
	noDb         bool
	taskName     string
	jobDirectory string
	configPath   string
	logLevel     string
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.projectName, "projectName", "", "Project to record the job in")
	fs.StringVar(&f.projectPath, "projectPath", "", "Directory of the project, created if new")
	fs.StringVar(&f.dbFile, "dbFile", "", "Project database (defaults to the configured one)")
	fs.BoolVar(&f.noDb, "noDb", false, "Run in the job directory without a project database")
	fs.StringVar(&f.taskName, "taskName", "", "Task to execute (defaults to the positional task)")
	fs.StringVar(&f.jobDirectory, "jobDirectory", "", "Working directory of an untracked run (defaults to the current directory)")
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default ~/.i2run/config.yaml)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// errNoProject reports a tracked run without a project to record it in.
var errNoProject = errors.New("tracked mode needs --projectName (use --noDb to run without a project)")

func (f *runFlags) tracked() bool {
	return !f.noDb
}

func init() {
	// Registered for help output only; RunE parses its own arguments.
	var help runFlags
	help.register(rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:   "i2run <task> [flags] [--PARAM value...]",
	Short: "Run a CCP4i2 task from the command line",
	Long: `i2run derives command-line flags from a task's definition document,
fills in the task's parameters from them and runs the task, either directly
in a job directory or as a job of a project.`,
	Args:               cobra.ArbitraryArgs,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	SilenceErrors:      true,
	RunE:               runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	var flags runFlags
	fixed := pflag.NewFlagSet("i2run", pflag.ContinueOnError)
	flags.register(fixed)

	pos, err := cliargs.ParseKnown(fixed, args)
	if len(pos) == 0 {
		if err == nil || errors.Is(err, pflag.ErrHelp) {
			return cmd.Help()
		}
		return err
	}
	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		return err
	}
	task := pos[0]

	cfg, logger, err := setup(flags.configPath, flags.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := loadSchema(cfg, task, logger)
	if err != nil {
		return err
	}

	set := cliargs.Build(st, logger)
	fs := pflag.NewFlagSet("i2run "+task, pflag.ContinueOnError)
	flags.register(fs)
	for _, err := range set.Register(fs) {
		logger.Debug("flag not registered", zap.Error(err))
	}
	pos, err = cliargs.Parse(fs, args)
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(cmd.OutOrStdout(), "Usage: i2run %s [flags]\n\nFlags:\n%s", task, fs.FlagUsages())
		return nil
	}
	if err != nil {
		return err
	}
	if len(pos) > 1 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(pos[1:], " "))
	}

	catalog, err := executor.Load(cfg.TasksFile)
	if err != nil {
		return err
	}
	job := &api.JobDescriptor{Task: task, WorkDir: flags.jobDirectory}
	if flags.taskName != "" {
		job.Task = flags.taskName
	}
	if _, err := catalog.Lookup(job.Task); err != nil {
		return fmt.Errorf("%w (known tasks: %s)", err, strings.Join(catalog.Names(), ", "))
	}

	interval, err := cfg.Poll.IntervalDuration()
	if err != nil {
		return err
	}
	timeout, err := cfg.Poll.TimeoutDuration()
	if err != nil {
		return err
	}
	opts := jobs.Options{
		Executor:     executor.NewRunner(catalog),
		Logger:       logger,
		PollInterval: interval,
		Timeout:      timeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *projectdb.DB
	if flags.tracked() {
		if flags.projectName == "" {
			return errNoProject
		}
		job.Mode = api.ModeTracked
		job.ProjectName = flags.projectName
		job.ProjectPath = flags.projectPath

		dbPath := flags.dbFile
		if dbPath == "" {
			dbPath = cfg.Database.Path
		}
		db, err = projectdb.Open(dbPath, logger)
		if err != nil {
			return err
		}
		opts.Database = db

		w, err := jobs.WatchDatabase(dbPath, logger)
		if err != nil {
			logger.Warn("database changes will only be noticed by polling", zap.Error(err))
		} else {
			defer func() { _ = w.Close() }()
			opts.Wake = w.Wake()
		}
	}

	o := jobs.New(opts)
	res, err := prepareAndRun(ctx, o, db, job, st, set.Supplied(fs), logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if job.Mode == api.ModeTracked {
		fmt.Fprintf(out, "job %s %s in %s\n", job.JobNumber, res.Status, job.WorkDir)
	} else {
		fmt.Fprintf(out, "%s %s in %s\n", job.Task, res.Status, job.WorkDir)
	}
	return nil
}

// prepareAndRun creates the job, applies the supplied flags to a fresh
// parameter tree and runs it. db is closed on every path.
func prepareAndRun(ctx context.Context, o *jobs.Orchestrator, db *projectdb.DB, job *api.JobDescriptor, st *schema.Tree, supplied []cliargs.Supplied, logger *zap.Logger) (api.Result, error) {
	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}
	if err := o.Prepare(ctx, job); err != nil {
		closeDB()
		return api.Result{}, err
	}

	env := inject.Env{JobDir: job.WorkDir, ProjectID: job.ProjectID, Logger: logger}
	if db != nil {
		env.Files = db
	}
	in := inject.New(env)
	tree := params.NewTree(st, params.NewRegistry(logger))
	for _, s := range supplied {
		if err := in.Apply(ctx, st, tree, s.Flag, s.Groups, s.Multi); err != nil {
			if db != nil {
				if serr := db.SetJobStatus(ctx, job.JobID, api.StatusFailed); serr != nil {
					logger.Warn("failed to mark job failed", zap.Error(serr))
				}
			}
			closeDB()
			return api.Result{}, err
		}
	}
	return o.Run(ctx, job, tree)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

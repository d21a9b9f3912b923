// Package projectdb stores projects, jobs and the files they use in a
// SQLite database.
package projectdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/params"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrProjectExists = errors.New("project already exists")
)

// Project directory layout.
const (
	JobsDir     = "CCP4_JOBS"
	ImportedDir = "CCP4_IMPORTED_FILES"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	path            TEXT NOT NULL,
	last_job_number INTEGER NOT NULL DEFAULT 0,
	created         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	parent_id  TEXT NOT NULL DEFAULT '',
	number     TEXT NOT NULL,
	task       TEXT NOT NULL,
	dir        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	created    INTEGER NOT NULL,
	finished   INTEGER NOT NULL DEFAULT 0,
	UNIQUE (project_id, number)
);
CREATE INDEX IF NOT EXISTS jobs_finished ON jobs(project_id, finished);
CREATE TABLE IF NOT EXISTS files (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	param      TEXT NOT NULL,
	role       INTEGER NOT NULL,
	path       TEXT NOT NULL,
	annotation TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS files_job ON files(job_id, param, role);
CREATE TABLE IF NOT EXISTS params (
	job_id TEXT PRIMARY KEY REFERENCES jobs(id),
	path   TEXT NOT NULL,
	xml    TEXT NOT NULL,
	saved  INTEGER NOT NULL
);
`

// DB is a handle on a project database.
type DB struct {
	db   *sql.DB
	path string
	lk   *writeLock
	log  *zap.Logger
}

// Open opens the database at path, creating it and its schema if needed.
func Open(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	lk, err := openLock(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lk.close()
		return nil, fmt.Errorf("open project db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lk.close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	d := &DB{db: db, path: path, lk: lk, log: logger}
	if err := d.write(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(schemaSQL)
		return err
	}); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("opened project database", zap.String("path", path))
	return d, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Close releases the database and its lock file.
func (d *DB) Close() error {
	err := d.db.Close()
	if lerr := d.lk.close(); err == nil {
		err = lerr
	}
	return err
}

// write runs fn in a transaction while holding the write lock.
func (d *DB) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := d.lk.lock(); err != nil {
		return err
	}
	defer d.lk.unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateProject creates a project rooted at path.
func (d *DB) CreateProject(ctx context.Context, name, path string) (api.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return api.Project{}, err
	}
	p := api.Project{ID: uuid.NewString(), Name: name, Path: abs}
	err = d.write(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT count(*) FROM projects WHERE name = ?", name).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrProjectExists, name)
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO projects (id, name, path, created) VALUES (?, ?, ?, ?)",
			p.ID, p.Name, p.Path, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return api.Project{}, err
	}
	for _, dir := range []string{JobsDir, ImportedDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return api.Project{}, fmt.Errorf("create project directory: %w", err)
		}
	}
	d.log.Info("created project", zap.String("name", name), zap.String("path", abs))
	return p, nil
}

// ProjectByName looks a project up by name.
func (d *DB) ProjectByName(ctx context.Context, name string) (api.Project, error) {
	var p api.Project
	err := d.db.QueryRowContext(ctx, "SELECT id, name, path FROM projects WHERE name = ?", name).
		Scan(&p.ID, &p.Name, &p.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Project{}, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	return p, err
}

func (d *DB) project(ctx context.Context, id string) (api.Project, error) {
	var p api.Project
	err := d.db.QueryRowContext(ctx, "SELECT id, name, path FROM projects WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &p.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return api.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ResetLastJobNumber sets the project's job counter to its highest
// existing top-level job number.
func (d *DB) ResetLastJobNumber(ctx context.Context, projectID string) error {
	return d.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE projects SET last_job_number = (
				SELECT COALESCE(MAX(CAST(number AS INTEGER)), 0)
				FROM jobs WHERE project_id = ? AND parent_id = ''
			) WHERE id = ?`, projectID, projectID)
		return err
	})
}

// CreateJob creates the next top-level job of a project and its directory.
func (d *DB) CreateJob(ctx context.Context, projectID, task string) (api.JobRef, error) {
	job := api.JobRef{ID: uuid.NewString(), ProjectID: projectID, Task: task, Status: api.StatusPending}
	err := d.write(ctx, func(tx *sql.Tx) error {
		var (
			last int
			root string
		)
		if err := tx.QueryRowContext(ctx,
			"SELECT last_job_number, path FROM projects WHERE id = ?", projectID).Scan(&last, &root); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
			}
			return err
		}
		job.Number = strconv.Itoa(last + 1)
		job.Dir = filepath.Join(root, JobsDir, "job_"+job.Number)
		if _, err := tx.ExecContext(ctx,
			"UPDATE projects SET last_job_number = ? WHERE id = ?", last+1, projectID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, project_id, number, task, dir, status, created)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, projectID, job.Number, task, job.Dir, int(job.Status), time.Now().UnixNano())
		return err
	})
	if err != nil {
		return api.JobRef{}, err
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return api.JobRef{}, fmt.Errorf("create job directory: %w", err)
	}
	d.log.Info("created job",
		zap.String("task", task),
		zap.String("number", job.Number),
		zap.String("dir", job.Dir))
	return job, nil
}

const jobColumns = "id, project_id, parent_id, number, task, dir, status"

func scanJob(row interface{ Scan(...any) error }) (api.JobRef, error) {
	var (
		j      api.JobRef
		status int
	)
	err := row.Scan(&j.ID, &j.ProjectID, &j.ParentID, &j.Number, &j.Task, &j.Dir, &status)
	j.Status = api.Status(status)
	return j, err
}

// Job returns the job with the given id.
func (d *DB) Job(ctx context.Context, id string) (api.JobRef, error) {
	j, err := scanJob(d.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return api.JobRef{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return j, err
}

// JobByNumber returns the job of a project with the given number.
func (d *DB) JobByNumber(ctx context.Context, projectID, number string) (api.JobRef, error) {
	j, err := scanJob(d.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE project_id = ? AND number = ?", projectID, number))
	if errors.Is(err, sql.ErrNoRows) {
		return api.JobRef{}, fmt.Errorf("job %s: %w", number, ErrNotFound)
	}
	return j, err
}

// ProjectJobs returns the top-level jobs of a project ordered by number.
func (d *DB) ProjectJobs(ctx context.Context, projectID string) ([]api.JobRef, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE project_id = ? AND parent_id = '' ORDER BY CAST(number AS INTEGER)",
		projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []api.JobRef
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetJobStatus records a status change. Terminal states stamp the finish
// time.
func (d *DB) SetJobStatus(ctx context.Context, jobID string, status api.Status) error {
	var finished int64
	if status.Terminal() {
		finished = time.Now().UnixNano()
	}
	return d.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE jobs SET status = ?, finished = ? WHERE id = ?", int(status), finished, jobID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

// FinishedSince returns the jobs of a project that reached a terminal state
// after since, oldest first.
func (d *DB) FinishedSince(ctx context.Context, projectID string, since time.Time) ([]api.FinishedJob, error) {
	var after int64
	if !since.IsZero() {
		after = since.UnixNano()
	}
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+jobColumns+", finished FROM jobs WHERE project_id = ? AND finished > ? ORDER BY finished",
		projectID, after)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []api.FinishedJob
	for rows.Next() {
		var (
			f      api.FinishedJob
			status int
			nanos  int64
		)
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.ParentID, &f.Number, &f.Task, &f.Dir, &status, &nanos); err != nil {
			return nil, err
		}
		f.Status = api.Status(status)
		f.Finished = time.Unix(0, nanos)
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveParams stores the parameter file written for a job.
func (d *DB) SaveParams(ctx context.Context, jobID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read params: %w", err)
	}
	return d.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO params (job_id, path, xml, saved) VALUES (?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET path = excluded.path, xml = excluded.xml, saved = excluded.saved`,
			jobID, path, string(data), time.Now().UnixNano())
		return err
	})
}

// Params returns the last parameter file saved for a job.
func (d *DB) Params(ctx context.Context, jobID string) (string, error) {
	var xml string
	err := d.db.QueryRowContext(ctx, "SELECT xml FROM params WHERE job_id = ?", jobID).Scan(&xml)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("params of job %s: %w", jobID, ErrNotFound)
	}
	return xml, err
}

// RecordFile adds a file record, assigning an id when rec has none.
func (d *DB) RecordFile(ctx context.Context, rec api.FileRecord) (api.FileRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	err := d.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO files (id, job_id, param, role, path, annotation, seq)
			VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM files))`,
			rec.ID, rec.JobID, rec.Param, int(rec.Role), rec.Path, rec.Annotation)
		return err
	})
	if err != nil {
		return api.FileRecord{}, fmt.Errorf("record file %s: %w", rec.Path, err)
	}
	return rec, nil
}

// ImportFile copies an external file into the project's import directory
// and records it as an input of the job.
func (d *DB) ImportFile(ctx context.Context, job api.JobRef, param, src, annotation string) (api.FileRecord, error) {
	p, err := d.project(ctx, job.ProjectID)
	if err != nil {
		return api.FileRecord{}, err
	}
	dir := filepath.Join(p.Path, ImportedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return api.FileRecord{}, err
	}
	dst := params.AvailableName(filepath.Join(dir, filepath.Base(src)))
	if err := copyFile(src, dst); err != nil {
		return api.FileRecord{}, fmt.Errorf("import %s: %w", src, err)
	}
	d.log.Debug("imported file", zap.String("param", param), zap.String("src", src), zap.String("dst", dst))
	return d.RecordFile(ctx, api.FileRecord{
		JobID:      job.ID,
		Param:      param,
		Role:       api.FileRoleIn,
		Path:       dst,
		Annotation: annotation,
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// JobFiles returns the files a job used under a parameter name in the
// given role, in the order they were recorded.
func (d *DB) JobFiles(ctx context.Context, jobID, param string, role api.FileRole) ([]api.FileRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, job_id, param, role, path, annotation FROM files
		WHERE job_id = ? AND param = ? AND role = ? ORDER BY seq`, jobID, param, int(role))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []api.FileRecord
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FileByID returns a file record.
func (d *DB) FileByID(ctx context.Context, id string) (api.FileRecord, error) {
	f, err := scanFile(d.db.QueryRowContext(ctx,
		"SELECT id, job_id, param, role, path, annotation FROM files WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return api.FileRecord{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return f, err
}

func scanFile(row interface{ Scan(...any) error }) (api.FileRecord, error) {
	var (
		f    api.FileRecord
		role int
	)
	err := row.Scan(&f.ID, &f.JobID, &f.Param, &role, &f.Path, &f.Annotation)
	f.Role = api.FileRole(role)
	return f, err
}

package api

import "time"

// Mode selects how a job is executed.
type Mode uint8

const (
	// ModeUntracked runs the task directly in a working directory.
	ModeUntracked Mode = iota
	// ModeTracked records the job in a project database and polls for completion.
	ModeTracked
)

func (m Mode) String() string {
	if m == ModeTracked {
		return "tracked"
	}
	return "untracked"
}

// JobDescriptor describes one invocation of a task.
// It is created once per CLI invocation and mutated only by the orchestrator.
type JobDescriptor struct {
	Task    string
	WorkDir string
	Mode    Mode

	// Tracked mode only.
	ProjectName string
	ProjectPath string
	ProjectID   string
	JobID       string
	JobNumber   string
}

// Status is the lifecycle state of a job.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusQueued
	StatusRunning
	StatusInterrupted
	StatusFailed
	StatusFinished
)

var statusNames = map[Status]string{
	StatusUnknown:     "unknown",
	StatusPending:     "pending",
	StatusQueued:      "queued",
	StatusRunning:     "running",
	StatusInterrupted: "interrupted",
	StatusFailed:      "failed",
	StatusFinished:    "finished",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

// Terminal reports whether the job can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusInterrupted
}

// Succeeded reports whether the job terminated successfully.
func (s Status) Succeeded() bool {
	return s == StatusFinished
}

// Result is the structured outcome of an executor run.
type Result struct {
	Status   Status
	ExitCode int
	Report   string
}

// Project is a project record.
type Project struct {
	ID   string
	Name string
	Path string
}

// JobRef is a job record as seen by the orchestrator and the injector.
type JobRef struct {
	ID        string
	ProjectID string
	ParentID  string
	Number    string
	Task      string
	Dir       string
	Status    Status
}

// FinishedJob is a job that reached a terminal state.
type FinishedJob struct {
	JobRef
	Finished time.Time
}

// FileRole distinguishes files produced by a job from files it consumed.
type FileRole uint8

const (
	FileRoleOut FileRole = iota
	FileRoleIn
)

func (r FileRole) String() string {
	if r == FileRoleIn {
		return "in"
	}
	return "out"
}

// FileRecord is a persisted file known to the project database.
type FileRecord struct {
	ID         string
	JobID      string
	Param      string
	Role       FileRole
	Path       string
	Annotation string
}

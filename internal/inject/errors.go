package inject

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSegment = errors.New("unknown path segment")
	ErrAmbiguous      = errors.New("ambiguous path")
	ErrMalformed      = errors.New("malformed property expression")
	ErrNoDatabase     = errors.New("no project database")
	ErrNoFile         = errors.New("no matching file")
)

// PathError reports a flag or property path that does not resolve to
// exactly one target.
type PathError struct {
	Flag    string
	Segment string
	Err     error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("--%s: %q: %v", e.Flag, e.Segment, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// AssignmentError reports a value an entity rejected.
type AssignmentError struct {
	Flag   string
	Entity string
	Value  string
	Err    error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("--%s: cannot set %s to %q: %v", e.Flag, e.Entity, e.Value, e.Err)
}

func (e *AssignmentError) Unwrap() error { return e.Err }

// LookupError reports a file reference the project database cannot resolve.
type LookupError struct {
	Ref string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("fileUse %q: %v", e.Ref, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingDocument = errors.New("schema document not found")
	ErrCyclicInclude   = errors.New("cyclic include")
	ErrMissingBody     = errors.New("document has no ccp4i2_body")
	ErrUnknownTask     = errors.New("no definition document for task")
)

// ResolutionError reports a failure to flatten a document's include chain.
type ResolutionError struct {
	Path  string   // document that could not be resolved
	Chain []string // include chain leading to Path, outermost first
	Err   error
}

func (e *ResolutionError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("resolve %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("resolve %s (via %s): %v", e.Path, strings.Join(e.Chain, " -> "), e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

package transfer

import (
	"fmt"
	"strings"

	"github.com/openmined/figaro/internal/change"
)

// PathNotFoundError is returned for a download path the cache does not know,
// or an upload source missing on disk.
type PathNotFoundError struct {
	Path   string
	Reason string
}

func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("path not found %q: %s", e.Path, e.Reason)
}

// UnresolvedParentError is returned when a new file is dispatched before its
// parent folder has an id.
type UnresolvedParentError struct {
	Path   string
	Parent string
}

func (e *UnresolvedParentError) Error() string {
	return fmt.Sprintf("unresolved parent %q for %q: create the folder first", e.Parent, e.Path)
}

// PathError ties a failure to the relative path it happened on.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Path + ": " + e.Err.Error() }

func (e *PathError) Unwrap() error { return e.Err }

// BatchError lists every failing path of a batch.
type BatchError struct {
	Direction change.Direction
	Total     int
	Failures  []*PathError
}

func (e *BatchError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d %ss failed", len(e.Failures), e.Total, e.Direction)
	for _, f := range e.Failures {
		sb.WriteString("\n  ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Paths returns the failing paths in batch order.
func (e *BatchError) Paths() []string {
	paths := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		paths[i] = f.Path
	}
	return paths
}

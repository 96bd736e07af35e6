package boxmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/workers"
)

// TreeError names the remote path whose listing failed during Build, or whose
// name cannot be mapped under the sync root.
type TreeError struct {
	Path string
	Err  error
}

func (e *TreeError) Error() string {
	p := e.Path
	if p == "" {
		p = "/"
	}
	return fmt.Sprintf("boxmap: %q: %v", p, e.Err)
}

func (e *TreeError) Unwrap() error { return e.Err }

// Build walks the remote tree under rootID and returns a fresh cache keyed by
// path from the root. Siblings are processed in parallel through pool; each
// task owns a partial cache which is merged once its siblings have joined.
// A failed listing is reported as a *TreeError and does not stop the walk;
// everything that could be listed is still returned.
func Build(ctx context.Context, backend remote.Backend, rootID string, pool workers.Pool) (*Boxmap, error) {
	tree, errs := buildFolder(ctx, backend, pool, rootID, "")
	files, folders := tree.Len()
	slog.Debug("boxmap build", "root", rootID, "files", files, "folders", folders, "errors", len(errs))
	return tree, errors.Join(errs...)
}

func buildFolder(ctx context.Context, backend remote.Backend, pool workers.Pool, folderID, prefix string) (*Boxmap, []error) {
	if err := ctx.Err(); err != nil {
		return New(), []error{&TreeError{Path: prefix, Err: err}}
	}

	items, err := backend.ListItems(ctx, folderID)
	if err != nil {
		return New(), []error{&TreeError{Path: prefix, Err: err}}
	}

	partials := make([]*Boxmap, len(items))
	failures := make([][]error, len(items))

	pool.Each(len(items), func(i int) {
		item := items[i]
		rel := Join(prefix, item.Name)
		part := New()
		partials[i] = part

		if err := ValidName(item.Name); err != nil {
			failures[i] = []error{&TreeError{Path: rel, Err: err}}
			return
		}

		if item.IsFolder() {
			sub, errs := buildFolder(ctx, backend, pool, item.ID, rel)
			part.Merge(sub)
			// post-order: the folder lands after its children
			part.InsertFolder(rel, item.ID)
			failures[i] = errs
		} else {
			part.InsertFile(rel, item.ID)
		}
	})

	tree := New()
	var errs []error
	for i := range items {
		tree.Merge(partials[i])
		errs = append(errs, failures[i]...)
	}
	return tree, errs
}

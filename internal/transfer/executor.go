// Package transfer moves single files between the local tree and the remote
// backend, and runs bounded parallel batches of such transfers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/openmined/figaro/internal/boxmap"
	"github.com/openmined/figaro/internal/change"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/utils"
	"github.com/openmined/figaro/internal/workers"
)

type Executor struct {
	Backend  remote.Backend
	Cache    *boxmap.Boxmap
	Detector *change.Detector

	// RootID is the remote folder the local Root maps to.
	RootID string
	Root   string

	// CacheDir is where RunBatch persists the cache. Empty skips the save.
	CacheDir string

	Pool workers.Pool
}

func (e *Executor) abs(rel string) string {
	return filepath.Join(e.Root, filepath.FromSlash(rel))
}

func (e *Executor) detector() *change.Detector {
	if e.Detector == nil {
		return change.NewDetector(nil)
	}
	return e.Detector
}

// UploadOne uploads rel and records a newly created file in the cache.
func (e *Executor) UploadOne(ctx context.Context, rel string) (*Result, error) {
	res, err := e.upload(ctx, rel)
	if err != nil {
		return nil, err
	}
	if res.Outcome == Created {
		e.Cache.InsertFile(rel, res.ID)
	}
	return res, nil
}

// upload does the work of UploadOne without touching the cache, so batch
// workers can hand their new ids back to the coordinator.
func (e *Executor) upload(ctx context.Context, rel string) (*Result, error) {
	local := e.abs(rel)
	info, err := os.Stat(local)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &PathNotFoundError{Path: rel, Reason: "no such local file"}
	} else if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &PathNotFoundError{Path: rel, Reason: "is a directory"}
	}

	res := &Result{Path: rel, Direction: change.Upload, Size: info.Size(), Mode: remote.ModeForSize(info.Size())}

	if id, ok := e.Cache.ResolveFile(rel); ok {
		meta, err := e.Backend.GetFileMetadata(ctx, id)
		if err != nil {
			return nil, err
		}
		decision, err := e.detector().Decide(local, meta, change.Upload)
		if err != nil {
			return nil, err
		}
		res.ID = id
		if decision == change.Skip {
			res.Outcome = Skipped
			return res, nil
		}

		ref, err := e.Backend.UpdateContents(ctx, id, local, res.Mode)
		if err != nil {
			return nil, err
		}
		res.ID = ref.ID
		res.Outcome = Updated
		return res, nil
	}

	parentID, err := e.parentID(rel)
	if err != nil {
		return nil, err
	}
	ref, err := e.Backend.UploadNew(ctx, parentID, local, path.Base(rel), res.Mode)
	if err != nil {
		return nil, err
	}
	res.ID = ref.ID
	res.Outcome = Created
	return res, nil
}

func (e *Executor) parentID(rel string) (string, error) {
	parent := boxmap.ParentPath(rel)
	if parent == "" {
		return e.RootID, nil
	}
	id, ok := e.Cache.ResolveFolder(parent)
	if !ok {
		return "", &UnresolvedParentError{Path: rel, Parent: parent}
	}
	return id, nil
}

// DownloadOne writes the remote content of rel over the local file when the
// detector asks for it. The content lands in a temp file first and is checked
// against the remote SHA-1 before the rename.
func (e *Executor) DownloadOne(ctx context.Context, rel string) (*Result, error) {
	id, ok := e.Cache.ResolveFile(rel)
	if !ok {
		return nil, &PathNotFoundError{Path: rel, Reason: "not in the file map, rebuild it with `figaro boxmap`"}
	}

	meta, err := e.Backend.GetFileMetadata(ctx, id)
	if err != nil {
		return nil, err
	}

	local := e.abs(rel)
	res := &Result{Path: rel, Direction: change.Download, ID: id, Size: meta.Size}

	decision, err := e.detector().Decide(local, meta, change.Download)
	if err != nil {
		return nil, err
	}
	if decision == change.Skip {
		res.Outcome = Skipped
		return res, nil
	}

	body, err := e.Backend.Download(ctx, id)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	n, err := utils.WriteFileAtomic(local, body, meta.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("write %q: %w", rel, err)
	}
	res.Size = n
	res.Outcome = Downloaded
	return res, nil
}

// RunBatch transfers every path in one direction through the pool. Results
// come back in input order whether they failed or not. New file ids are
// inserted once all workers have joined, then the cache is saved once, even
// when some items failed. Failures are returned together as a *BatchError.
func (e *Executor) RunBatch(ctx context.Context, rels []string, dir change.Direction) ([]*Result, error) {
	if dir != change.Upload && dir != change.Download {
		return nil, fmt.Errorf("%w: batch direction must be upload or download, got %s", change.ErrPrecondition, dir)
	}

	results := make([]*Result, len(rels))
	progress := newBatchProgress(dir, len(rels))
	e.Pool.Each(len(rels), func(i int) {
		rel := rels[i]

		var res *Result
		var err error
		if dir == change.Upload {
			res, err = e.upload(ctx, rel)
		} else {
			res, err = e.DownloadOne(ctx, rel)
		}
		if err != nil {
			res = &Result{Path: rel, Direction: dir, Outcome: Failed, Err: err}
		}
		res.describe()
		results[i] = res
		progress.done(res.Outcome == Failed)
	})

	var failures []*PathError
	for _, res := range results {
		switch res.Outcome {
		case Created:
			e.Cache.InsertFile(res.Path, res.ID)
		case Failed:
			failures = append(failures, &PathError{Path: res.Path, Err: res.Err})
			slog.Warn("transfer failed", "direction", dir, "path", res.Path, "error", res.Err)
			continue
		}
		slog.Debug("transfer", "direction", dir, "op", res.Outcome, "path", res.Path, "id", res.ID)
	}

	var errs []error
	if len(failures) > 0 {
		errs = append(errs, &BatchError{Direction: dir, Total: len(rels), Failures: failures})
	}
	if e.CacheDir != "" {
		if err := e.Cache.Save(e.CacheDir); err != nil {
			errs = append(errs, err)
		}
	}
	return results, joinErrors(errs)
}

// batchProgress logs a console line each time another tenth of a batch has
// completed, and once more when the last item is in.
type batchProgress struct {
	dir    change.Direction
	total  int
	step   int
	count  atomic.Int64
	failed atomic.Int64
}

func newBatchProgress(dir change.Direction, total int) *batchProgress {
	return &batchProgress{dir: dir, total: total, step: max(1, total/10)}
}

func (p *batchProgress) done(failed bool) {
	if failed {
		p.failed.Add(1)
	}
	n := int(p.count.Add(1))
	if n%p.step != 0 && n != p.total {
		return
	}
	slog.Info("batch progress", "direction", p.dir, "done", n, "total", p.total, "failed", p.failed.Load())
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

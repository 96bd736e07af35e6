// Package syncer drives whole sync runs: rebuilding the identity cache, and
// uploading or downloading lists of files and folder trees through the
// transfer executor.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/figaro/internal/boxmap"
	"github.com/openmined/figaro/internal/change"
	"github.com/openmined/figaro/internal/config"
	"github.com/openmined/figaro/internal/ignore"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/transfer"
	"github.com/openmined/figaro/internal/utils"
	"github.com/openmined/figaro/internal/workers"
	"github.com/openmined/figaro/internal/workspace"
)

var ErrRootPath = errors.New("the workspace root is not a file")

type Syncer struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Backend   remote.Backend
	Cache     *boxmap.Boxmap
	Executor  *transfer.Executor
	Ignore    *ignore.List
}

// New loads the identity cache and ignore rules of ws. A nil hasher hashes
// files directly.
func New(ws *workspace.Workspace, cfg *config.Config, backend remote.Backend, hasher change.Hasher) (*Syncer, error) {
	cache, err := boxmap.Load(ws.MetadataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity cache: %w", err)
	}

	ign := ignore.New(ws.IgnorePath, cfg.Exclude)
	ign.Load()

	return &Syncer{
		Workspace: ws,
		Config:    cfg,
		Backend:   backend,
		Cache:     cache,
		Ignore:    ign,
		Executor: &transfer.Executor{
			Backend:  backend,
			Cache:    cache,
			Detector: change.NewDetector(hasher),
			RootID:   cfg.RootID(),
			Root:     ws.Root,
			CacheDir: ws.MetadataDir,
			Pool:     workers.Pool{Max: cfg.Workers},
		},
	}, nil
}

func (s *Syncer) rootID() string {
	return s.Executor.RootID
}

func (s *Syncer) save() error {
	if err := s.Cache.Save(s.Workspace.MetadataDir); err != nil {
		return fmt.Errorf("failed to save identity cache: %w", err)
	}
	return nil
}

// RebuildCache lists the whole remote tree and makes it the identity cache.
// When part of the tree could not be listed, what was listed is merged over
// the existing cache instead, so entries under the failed folders survive.
func (s *Syncer) RebuildCache(ctx context.Context) error {
	tree, buildErr := boxmap.Build(ctx, s.Backend, s.rootID(), s.Executor.Pool)
	if buildErr != nil {
		s.Cache.Merge(tree)
	} else {
		s.Cache.Replace(tree)
	}

	files, folders := s.Cache.Len()
	slog.Info("identity cache rebuilt", "files", files, "folders", folders, "partial", buildErr != nil)
	return errors.Join(buildErr, s.save())
}

// UploadFiles uploads the given paths as one batch.
func (s *Syncer) UploadFiles(ctx context.Context, paths []string) (*Report, error) {
	return s.transferFiles(ctx, paths, change.Upload)
}

// DownloadFiles downloads the given paths as one batch. Every path must be in
// the file map.
func (s *Syncer) DownloadFiles(ctx context.Context, paths []string) (*Report, error) {
	return s.transferFiles(ctx, paths, change.Download)
}

func (s *Syncer) transferFiles(ctx context.Context, paths []string, dir change.Direction) (*Report, error) {
	rels, err := s.normalize(paths)
	if err != nil {
		return nil, err
	}
	results, err := s.Executor.RunBatch(ctx, rels, dir)
	return &Report{Results: results}, err
}

// normalize maps paths onto workspace relative paths, dropping duplicates
// while keeping the first occurrence order.
func (s *Syncer) normalize(paths []string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := s.Workspace.RelPath(p)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			return nil, fmt.Errorf("%w: %s", ErrRootPath, p)
		}
		if seen.Add(rel) {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// walk accumulates the outcome of a folder run.
type walk struct {
	dir      change.Direction
	rep      *Report
	total    int
	failures []*transfer.PathError
	errs     []error
}

func (w *walk) fail(rel string, err error) {
	w.total++
	w.failures = append(w.failures, &transfer.PathError{Path: rel, Err: err})
}

func (w *walk) batch(results []*transfer.Result, err error) {
	w.rep.add(results)
	w.total += len(results)
	if err == nil {
		return
	}
	var batchErr *transfer.BatchError
	if errors.As(err, &batchErr) {
		w.failures = append(w.failures, batchErr.Failures...)
		return
	}
	w.errs = append(w.errs, err)
}

func (w *walk) err(saveErr error) error {
	var errs []error
	if len(w.failures) > 0 {
		errs = append(errs, &transfer.BatchError{Direction: w.dir, Total: w.total, Failures: w.failures})
	}
	errs = append(errs, w.errs...)
	if saveErr != nil {
		errs = append(errs, saveErr)
	}
	return errors.Join(errs...)
}

// UploadFolder mirrors the local directory tree under dir to the remote,
// parents before children. Missing remote ancestors of dir are created first.
// When a folder cannot be created its whole subtree is skipped and the run
// goes on with its siblings.
func (s *Syncer) UploadFolder(ctx context.Context, dir string) (*Report, error) {
	rel, err := s.Workspace.RelPath(dir)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(s.Workspace.AbsPath(rel)) {
		return nil, &transfer.PathNotFoundError{Path: rel, Reason: "no such local directory"}
	}

	rep := &Report{}
	for _, ancestor := range ancestors(rel) {
		if _, err := s.ensureFolder(ctx, ancestor, rep); err != nil {
			return rep, errors.Join(fmt.Errorf("failed to create remote folder %q: %w", ancestor, err), s.save())
		}
	}

	w := &walk{dir: change.Upload, rep: rep}
	s.uploadDir(ctx, rel, w)
	return rep, w.err(s.save())
}

func (s *Syncer) uploadDir(ctx context.Context, rel string, w *walk) {
	if err := ctx.Err(); err != nil {
		w.fail(rel, err)
		return
	}
	if _, err := s.ensureFolder(ctx, rel, w.rep); err != nil {
		slog.Warn("folder create failed, skipping subtree", "path", rel, "error", err)
		w.fail(rel, err)
		return
	}

	entries, err := os.ReadDir(s.Workspace.AbsPath(rel))
	if err != nil {
		w.fail(rel, err)
		return
	}

	var files, dirs []string
	for _, entry := range entries {
		child := boxmap.Join(rel, entry.Name())
		switch {
		case workspace.IsReserved(child):
			continue
		case entry.IsDir():
			if s.Ignore.ShouldIgnoreDir(child) {
				slog.Debug("ignored", "path", child)
				continue
			}
			dirs = append(dirs, child)
		case entry.Type().IsRegular():
			if s.Ignore.ShouldIgnore(child) {
				slog.Debug("ignored", "path", child)
				continue
			}
			files = append(files, child)
		default:
			slog.Debug("skipping irregular file", "path", child, "mode", entry.Type())
		}
	}

	if len(files) > 0 {
		w.batch(s.Executor.RunBatch(ctx, files, change.Upload))
	}
	// ReadDir sorts by name
	for _, d := range dirs {
		s.uploadDir(ctx, d, w)
	}
}

// ensureFolder returns the remote id of the folder at rel, creating it when
// the folder map does not know it. The parent must already be resolved.
func (s *Syncer) ensureFolder(ctx context.Context, rel string, rep *Report) (string, error) {
	if rel == "" {
		return s.rootID(), nil
	}
	if id, ok := s.Cache.ResolveFolder(rel); ok {
		return id, nil
	}

	parentID := s.rootID()
	if parent := boxmap.ParentPath(rel); parent != "" {
		id, ok := s.Cache.ResolveFolder(parent)
		if !ok {
			return "", &transfer.UnresolvedParentError{Path: rel, Parent: parent}
		}
		parentID = id
	}

	ref, err := s.Backend.CreateSubfolder(ctx, parentID, path.Base(rel))
	if err != nil {
		return "", err
	}
	s.Cache.InsertFolder(rel, ref.ID)
	rep.CreatedFolders = append(rep.CreatedFolders, rel)
	slog.Info("remote folder created", "path", rel, "id", ref.ID)
	return ref.ID, nil
}

// ancestors returns the proper ancestors of rel, outermost first.
func ancestors(rel string) []string {
	var out []string
	for p := boxmap.ParentPath(rel); p != ""; p = boxmap.ParentPath(p) {
		out = append([]string{p}, out...)
	}
	return out
}

// DownloadFolder mirrors the remote folder at dir into the local tree. The
// folder and every subfolder are resolved through the folder map, so the
// cache must have been built first.
func (s *Syncer) DownloadFolder(ctx context.Context, dir string) (*Report, error) {
	rel, err := s.Workspace.RelPath(dir)
	if err != nil {
		return nil, err
	}

	id := s.rootID()
	if rel != "" {
		var ok bool
		if id, ok = s.Cache.ResolveFolder(rel); !ok {
			slog.Warn("folder not in the identity cache, run `figaro boxmap` to refresh it", "path", rel)
			return nil, &transfer.PathNotFoundError{Path: rel, Reason: "not in the folder map, rebuild it with `figaro boxmap`"}
		}
	}

	rep := &Report{}
	w := &walk{dir: change.Download, rep: rep}
	s.downloadDir(ctx, rel, id, w)
	return rep, w.err(s.save())
}

func (s *Syncer) downloadDir(ctx context.Context, rel, id string, w *walk) {
	if err := ctx.Err(); err != nil {
		w.fail(rel, err)
		return
	}

	local := s.Workspace.AbsPath(rel)
	if !utils.DirExists(local) {
		if err := utils.EnsureDir(local); err != nil {
			w.fail(rel, err)
			return
		}
		w.rep.CreatedFolders = append(w.rep.CreatedFolders, rel)
	}

	items, err := s.Backend.ListItems(ctx, id)
	if err != nil {
		slog.Warn("folder listing failed, skipping subtree", "path", rel, "error", err)
		w.fail(rel, err)
		return
	}

	var files, dirs []string
	for _, item := range items {
		child := boxmap.Join(rel, item.Name)
		if err := boxmap.ValidName(item.Name); err != nil {
			w.fail(child, err)
			continue
		}
		if workspace.IsReserved(child) {
			continue
		}
		if item.IsFolder() {
			dirs = append(dirs, child)
		} else {
			files = append(files, child)
		}
	}

	if len(files) > 0 {
		w.batch(s.Executor.RunBatch(ctx, files, change.Download))
	}
	for _, d := range dirs {
		childID, ok := s.Cache.ResolveFolder(d)
		if !ok {
			w.fail(d, &transfer.PathNotFoundError{Path: d, Reason: "not in the folder map, rebuild it with `figaro boxmap`"})
			continue
		}
		s.downloadDir(ctx, d, childID, w)
	}
}

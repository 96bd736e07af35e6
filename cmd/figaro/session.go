package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/figaro/internal/config"
	"github.com/openmined/figaro/internal/hashcache"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/remote/box"
	"github.com/openmined/figaro/internal/remote/s3store"
	"github.com/openmined/figaro/internal/syncer"
	"github.com/openmined/figaro/internal/utils"
	"github.com/openmined/figaro/internal/workspace"
	"github.com/spf13/cobra"
)

// newBackend builds the remote client for cfg. Tests swap it for an in-memory
// backend.
var newBackend = func(ctx context.Context, cfg *config.Config, ws *workspace.Workspace) (remote.Backend, error) {
	switch cfg.Backend {
	case config.BackendS3:
		store, err := s3store.New(ctx, s3store.Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		client, err := box.New(box.Options{
			APIURL:      cfg.Box.APIURL,
			UploadURL:   cfg.Box.UploadURL,
			AccessToken: cfg.Credentials.AccessToken,
			ResumeDir:   ws.ResumeDir,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// workDir is the --chdir flag, or the process working directory.
func workDir(cmd *cobra.Command) (string, error) {
	if dir, _ := cmd.Flags().GetString("chdir"); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// argPaths resolves relative arguments against --chdir.
func argPaths(cmd *cobra.Command, args []string) []string {
	dir, _ := cmd.Flags().GetString("chdir")
	if dir == "" {
		return args
	}
	paths := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			paths[i] = a
		} else {
			paths[i] = filepath.Join(dir, a)
		}
	}
	return paths
}

// session is everything a sync command holds while it runs.
type session struct {
	ws      *workspace.Workspace
	cfg     *config.Config
	syncer  *syncer.Syncer
	closers []io.Closer
}

func openSession(cmd *cobra.Command) (s *session, err error) {
	dir, err := workDir(cmd)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Find(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.ConfigPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	if err := ws.Lock(); err != nil {
		return nil, err
	}
	s = &session{ws: ws, cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
			s = nil
		}
	}()

	logCloser, err := attachLogFile(ws)
	if err != nil {
		return s, fmt.Errorf("failed to open log file: %w", err)
	}
	s.closers = append(s.closers, logCloser)

	backend, err := newBackend(cmd.Context(), cfg, ws)
	if err != nil {
		return s, err
	}

	hashes, err := hashcache.Open(ws.HashDBPath)
	if err != nil {
		return s, err
	}
	s.closers = append(s.closers, hashes)

	s.syncer, err = syncer.New(ws, cfg, backend, hashes)
	if err != nil {
		return s, err
	}

	slog.Debug("session",
		"root", ws.Root,
		"backend", cfg.Backend,
		"remote root", cfg.RootID(),
		"workers", cfg.Workers,
		"token", utils.MaskSecret(cfg.Credentials.AccessToken),
	)
	return s, nil
}

// Close releases everything in reverse order, the workspace lock last.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	errs = append(errs, s.ws.Unlock())
	return errors.Join(errs...)
}

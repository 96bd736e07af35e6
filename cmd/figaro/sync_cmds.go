package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/openmined/figaro/internal/syncer"
	"github.com/spf13/cobra"
)

// runSession opens the workspace, runs fn and prints its report. The error of
// fn is returned after the report so partial results are still shown.
func runSession(cmd *cobra.Command, fn func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error)) (err error) {
	sess, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	rep, err := fn(cmd.Context(), sess.syncer)
	printReport(cmd.OutOrStdout(), rep)
	return err
}

func newBoxmapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boxmap",
		Short: "Rebuild the local cache of remote file and folder ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, sess.Close())
			}()

			err = sess.syncer.RebuildCache(cmd.Context())
			files, folders := sess.syncer.Cache.Len()
			fmt.Fprintf(cmd.OutOrStdout(), "Cached %s files and %s folders from %s\n",
				green(files), green(folders), cyan(remoteLabel(sess.cfg)))
			return err
		},
	}
}

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files, creating or updating them on the remote",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := argPaths(cmd, args)
			return runSession(cmd, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.UploadFiles(ctx, paths)
			})
		},
	}
}

func newUploadFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload-folder DIR",
		Short: "Upload a directory tree, creating remote folders as needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := argPaths(cmd, args)[0]
			return runSession(cmd, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.UploadFolder(ctx, dir)
			})
		},
	}
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download FILE...",
		Short: "Download files known to the id cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := argPaths(cmd, args)
			return runSession(cmd, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.DownloadFiles(ctx, paths)
			})
		},
	}
}

func newDownloadFolderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download-folder DIR",
		Short: "Download a remote folder tree known to the id cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := argPaths(cmd, args)[0]
			return runSession(cmd, func(ctx context.Context, s *syncer.Syncer) (*syncer.Report, error) {
				return s.DownloadFolder(ctx, dir)
			})
		},
	}
}

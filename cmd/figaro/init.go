package main

import (
	"fmt"

	"github.com/openmined/figaro/internal/config"
	"github.com/openmined/figaro/internal/utils"
	"github.com/openmined/figaro/internal/workspace"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var backend string
	var boxID string
	var accessToken string
	var bucket string
	var region string
	var endpoint string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a figaro workspace in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := workDir(cmd)
			if err != nil {
				return err
			}
			ws, err := workspace.New(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if utils.FileExists(ws.ConfigPath) {
				fmt.Fprintln(out, "figaro workspace already initialized")
				fmt.Fprintf(out, "Root:   %s\n", cyan(ws.Root))
				fmt.Fprintf(out, "Config: %s\n", green(ws.ConfigPath))
				return nil
			}

			cfg := config.Default()
			cfg.Backend = backend
			if boxID != "" {
				cfg.Folder.BoxID = boxID
			}
			cfg.Credentials.AccessToken = accessToken
			cfg.S3.Bucket = bucket
			cfg.S3.Region = region
			cfg.S3.Endpoint = endpoint
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := ws.Setup(); err != nil {
				return err
			}
			if err := cfg.Save(ws.ConfigPath); err != nil {
				return err
			}

			fmt.Fprintln(out, "figaro workspace initialized")
			fmt.Fprintf(out, "Root:    %s\n", cyan(ws.Root))
			fmt.Fprintf(out, "Config:  %s\n", green(ws.ConfigPath))
			fmt.Fprintf(out, "Backend: %s\n", cyan(cfg.Backend))
			fmt.Fprintf(out, "Remote:  %s\n", cyan(remoteLabel(cfg)))
			return nil
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringVar(&backend, "backend", config.BackendBox, "Remote backend, box or s3")
	cmd.Flags().StringVar(&boxID, "box-id", "", "Remote folder the workspace root maps to (Box folder id or S3 prefix)")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "Box access token, also read from FIGARO_CREDENTIALS_ACCESS_TOKEN")
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket")
	cmd.Flags().StringVar(&region, "region", "", "S3 region")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "S3 compatible endpoint URL")

	return cmd
}

func remoteLabel(cfg *config.Config) string {
	if cfg.Backend == config.BackendS3 {
		return "s3://" + cfg.S3.Bucket + "/" + cfg.RootID()
	}
	return "box folder " + cfg.RootID()
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "figaro",
		Short:         "Mirror a local directory tree with a remote folder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			setupLogging(verbose)
		},
	}

	cmd.PersistentFlags().SortFlags = false
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().IntP("jobs", "j", 0, "Parallel transfers, 0 sizes from the idle CPUs")
	cmd.PersistentFlags().StringP("chdir", "C", "", "Run as if figaro was started in this directory")

	cmd.AddCommand(
		newInitCmd(),
		newBoxmapCmd(),
		newUploadCmd(),
		newUploadFolderCmd(),
		newDownloadCmd(),
		newDownloadFolderCmd(),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	slog.SetDefault(slog.New(console))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", red("ERROR"), err)
		stop()
		os.Exit(1)
	}
}

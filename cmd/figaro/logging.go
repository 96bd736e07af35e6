package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/openmined/figaro/internal/utils"
	"github.com/openmined/figaro/internal/workspace"
)

var (
	logLevel = new(slog.LevelVar)
	console  = utils.NewConsoleHandler(os.Stderr, logLevel)
)

func setupLogging(verbose bool) {
	if verbose {
		logLevel.Set(slog.LevelDebug)
	} else {
		logLevel.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(console))
}

// attachLogFile adds the workspace log file next to the console and tags every
// record with a run id. The returned closer restores console-only logging.
func attachLogFile(ws *workspace.Workspace) (io.Closer, error) {
	fileHandler, closer, err := utils.NewFileHandler(ws.LogPath, slog.LevelDebug)
	if err != nil {
		return nil, err
	}

	logger := slog.New(utils.NewMultiLogHandler(console, fileHandler)).With("run", uuid.NewString())
	slog.SetDefault(logger)
	return closerFunc(func() error {
		slog.SetDefault(slog.New(console))
		return closer.Close()
	}), nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

package utils

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// NewConsoleHandler returns the tint handler used for terminal output.
func NewConsoleHandler(f *os.File, level slog.Leveler) slog.Handler {
	return tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: logTimeFormat,
		NoColor:    !isatty.IsTerminal(f.Fd()),
	})
}

// NewFileHandler returns a text handler writing to a size-rotated log file.
// The returned closer flushes and closes the file.
func NewFileHandler(path string, level slog.Leveler) (slog.Handler, io.Closer, error) {
	if err := EnsureParent(path); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	interceptor := NewLogInterceptor(rotator)

	handler := slog.NewTextHandler(interceptor, &slog.HandlerOptions{
		Level: level,
		// time is added by the interceptor
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return handler, interceptor, nil
}

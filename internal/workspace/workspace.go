// Package workspace describes the on-disk layout of a synchronized directory:
// the root, the reserved .figaro metadata directory and the lock that keeps two
// figaro processes from rewriting the identity cache at the same time.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/figaro/internal/utils"
)

const (
	MetadataDirName = ".figaro"
	configFile      = "config"
	filemapFile     = "filemap"
	foldermapFile   = "foldermap"
	lockFile        = "figaro.lock"
	logsDir         = "logs"
	logFile         = "figaro.log"
	resumeDir       = "uploads"
	hashDBFile      = "hashes.db"
	ignoreFile      = ".figaroignore"
)

var (
	ErrNotFound    = errors.New("workspace: no .figaro/config found in this directory or any parent")
	ErrLocked      = errors.New("workspace: locked by another figaro process")
	ErrOutsideRoot = errors.New("workspace: path is outside the sync root")
	ErrReserved    = errors.New("workspace: path is inside the reserved .figaro directory")
)

type Workspace struct {
	Root        string
	MetadataDir string
	ConfigPath  string
	LogsDir     string
	LogPath     string
	ResumeDir   string
	HashDBPath  string
	IgnorePath  string

	flock *flock.Flock
}

func New(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	meta := filepath.Join(root, MetadataDirName)
	return &Workspace{
		Root:        root,
		MetadataDir: meta,
		ConfigPath:  filepath.Join(meta, configFile),
		LogsDir:     filepath.Join(meta, logsDir),
		LogPath:     filepath.Join(meta, logsDir, logFile),
		ResumeDir:   filepath.Join(meta, resumeDir),
		HashDBPath:  filepath.Join(meta, hashDBFile),
		IgnorePath:  filepath.Join(root, ignoreFile),
		flock:       flock.New(filepath.Join(meta, lockFile)),
	}, nil
}

// Find walks up from start until it finds a directory holding .figaro/config.
func Find(start string) (*Workspace, error) {
	dir, err := utils.ResolvePath(start)
	if err != nil {
		return nil, err
	}

	for {
		if utils.FileExists(filepath.Join(dir, MetadataDirName, configFile)) {
			return New(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w (searched from %s)", ErrNotFound, start)
		}
		dir = parent
	}
}

// Setup creates the metadata directory and empty cache listings.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.MetadataDir, w.LogsDir, w.ResumeDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	for _, name := range []string{filemapFile, foldermapFile} {
		path := filepath.Join(w.MetadataDir, name)
		if utils.FileExists(path) {
			continue
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	slog.Debug("workspace", "root", w.Root)
	return nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	// only the holder removes the lock file
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// RelPath converts an absolute or cwd-relative path into the canonical
// slash-separated path relative to the root. The root itself is "".
func (w *Workspace) RelPath(path string) (string, error) {
	abs, err := utils.ResolvePath(path)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}

	rel = NormPath(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	if IsReserved(rel) {
		return "", fmt.Errorf("%w: %s", ErrReserved, path)
	}
	return rel, nil
}

// AbsPath is the inverse of RelPath.
func (w *Workspace) AbsPath(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// IsReserved reports whether rel points at or below the metadata directory.
func IsReserved(rel string) bool {
	return rel == MetadataDirName || strings.HasPrefix(rel, MetadataDirName+"/")
}

// NormPath cleans path, converts separators to slashes and strips leading
// slashes. The root ("." after cleaning) becomes "".
func NormPath(path string) string {
	path = filepath.Clean(path)
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimLeft(path, "/")
	if path == "." {
		return ""
	}
	return path
}

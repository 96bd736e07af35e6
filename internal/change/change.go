// Package change decides whether a file has to be transferred, comparing the
// local copy with the remote metadata.
package change

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/utils"
)

var ErrPrecondition = errors.New("change: precondition violated")

// Direction is a bit set; exactly one flag must be set per decision.
type Direction uint8

const (
	Upload Direction = 1 << iota
	Download
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	case 0:
		return "none"
	default:
		return "upload|download"
	}
}

type Decision int

const (
	Skip Decision = iota
	Transfer
)

func (d Decision) String() string {
	if d == Transfer {
		return "transfer"
	}
	return "skip"
}

// Hasher computes the lowercase hex SHA-1 of a local file.
type Hasher interface {
	Hash(path string) (string, error)
}

type FileHasher struct{}

func (FileHasher) Hash(path string) (string, error) {
	return utils.FileSHA1(path)
}

type Detector struct {
	Hasher Hasher
}

func NewDetector(h Hasher) *Detector {
	if h == nil {
		h = FileHasher{}
	}
	return &Detector{Hasher: h}
}

// Decide returns Transfer when the local file is missing, or when the remote
// copy is strictly newer and its content differs. Hashing only happens in the
// second case.
func (d *Detector) Decide(localPath string, meta *remote.Metadata, dir Direction) (Decision, error) {
	if dir != Upload && dir != Download {
		return Skip, fmt.Errorf("%w: direction must be upload or download, got %s", ErrPrecondition, dir)
	}
	if meta == nil {
		return Skip, fmt.Errorf("%w: no remote metadata for %q", ErrPrecondition, localPath)
	}

	info, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return Transfer, nil
	} else if err != nil {
		return Skip, fmt.Errorf("change: stat %q: %w", localPath, err)
	}
	if info.IsDir() {
		return Skip, fmt.Errorf("%w: %q is a directory", ErrPrecondition, localPath)
	}

	if !RemoteNewer(info.ModTime(), meta.ModifiedAt) {
		return Skip, nil
	}

	hasher := d.Hasher
	if hasher == nil {
		hasher = FileHasher{}
	}
	localHash, err := hasher.Hash(localPath)
	if err != nil {
		return Skip, fmt.Errorf("change: hash %q: %w", localPath, err)
	}
	if localHash == meta.ContentHash {
		return Skip, nil
	}
	return Transfer, nil
}

// RemoteNewer reports whether remote is strictly after local, with the local
// time truncated to whole seconds and both compared in UTC.
func RemoteNewer(local, remote time.Time) bool {
	return remote.UTC().After(local.UTC().Truncate(time.Second))
}

// Package remote defines the capability contract the sync engine needs from a
// hierarchical object store: folders and files addressed by opaque ids,
// reachable only through list, get, create, upload and download calls.
package remote

import (
	"context"
	"io"
	"time"
)

// ChunkedThreshold is the file size at which uploads switch from a single
// request to a chunked, resumable session.
const ChunkedThreshold int64 = 20_000_000

type ItemKind string

const (
	KindFile   ItemKind = "file"
	KindFolder ItemKind = "folder"
)

// Item is one entry of a folder listing.
type Item struct {
	ID   string
	Name string
	Kind ItemKind
}

func (i Item) IsFolder() bool { return i.Kind == KindFolder }

// Metadata describes a remote file. ContentHash is a lowercase hex SHA-1.
type Metadata struct {
	ID          string
	Name        string
	ModifiedAt  time.Time
	Size        int64
	ContentHash string
}

// Ref is what create and upload calls return.
type Ref struct {
	ID   string
	Name string
}

type UploadMode int

const (
	UploadSimple UploadMode = iota
	UploadChunked
)

func (m UploadMode) String() string {
	if m == UploadChunked {
		return "chunked"
	}
	return "simple"
}

// ModeForSize picks the transfer strategy for a file of the given size.
func ModeForSize(size int64) UploadMode {
	if size >= ChunkedThreshold {
		return UploadChunked
	}
	return UploadSimple
}

// Backend is the already-authenticated client handle shared by every worker.
// Implementations must be safe for concurrent use.
type Backend interface {
	// ListItems returns every child of the folder, following pagination.
	ListItems(ctx context.Context, folderID string) ([]Item, error)

	GetFileMetadata(ctx context.Context, fileID string) (*Metadata, error)

	// Download streams the file contents. The caller closes the reader.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)

	// UploadNew creates name under parentID from the local file.
	UploadNew(ctx context.Context, parentID, localPath, name string, mode UploadMode) (*Ref, error)

	// UpdateContents uploads a new version of an existing file. The id is kept.
	UpdateContents(ctx context.Context, fileID, localPath string, mode UploadMode) (*Ref, error)

	CreateSubfolder(ctx context.Context, parentID, name string) (*Ref, error)
}

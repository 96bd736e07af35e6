// Package remotetest provides an in-memory remote.Backend with call recording
// and failure injection for tests.
package remotetest

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/openmined/figaro/internal/remote"
)

const RootID = "0"

type node struct {
	id         string
	name       string
	kind       remote.ItemKind
	parent     string
	children   []string
	content    []byte
	modifiedAt time.Time
}

// CreateCall records one CreateSubfolder invocation.
type CreateCall struct {
	ParentID string
	Name     string
	ID       string
}

// UploadCall records one UploadNew or UpdateContents invocation.
type UploadCall struct {
	ID     string
	Name   string
	Mode   remote.UploadMode
	Update bool
}

type Backend struct {
	mu      sync.Mutex
	nodes   map[string]*node
	nextID  int
	creates []CreateCall
	uploads []UploadCall
	lists   int

	// Now stamps modified_at on writes. Defaults to time.Now.
	Now func() time.Time

	failUpload map[string]error // by file name
	failList   map[string]error // by folder id
	failMeta   map[string]error // by file id
}

func New() *Backend {
	return &Backend{
		nodes: map[string]*node{
			RootID: {id: RootID, name: "", kind: remote.KindFolder},
		},
		Now:        time.Now,
		failUpload: make(map[string]error),
		failList:   make(map[string]error),
		failMeta:   make(map[string]error),
	}
}

func (b *Backend) newID(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *Backend) addChild(parentID string, n *node) {
	b.nodes[n.id] = n
	p := b.nodes[parentID]
	p.children = append(p.children, n.id)
}

// AddFolder seeds a folder and returns its id.
func (b *Backend) AddFolder(parentID, name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &node{id: b.newID("d"), name: name, kind: remote.KindFolder, parent: parentID}
	b.addChild(parentID, n)
	return n.id
}

// AddFile seeds a file and returns its id.
func (b *Backend) AddFile(parentID, name string, content []byte, modifiedAt time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &node{id: b.newID("f"), name: name, kind: remote.KindFile, parent: parentID, content: content, modifiedAt: modifiedAt}
	b.addChild(parentID, n)
	return n.id
}

// SetContent replaces a file's content and modification time.
func (b *Backend) SetContent(fileID string, content []byte, modifiedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodes[fileID]
	n.content = content
	n.modifiedAt = modifiedAt
}

// Content returns the stored bytes of a file.
func (b *Backend) Content(fileID string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[fileID]
	if !ok || n.kind != remote.KindFile {
		return nil, false
	}
	return n.content, true
}

// FailUpload makes every upload of a file with this name fail with err.
func (b *Backend) FailUpload(name string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUpload[name] = err
}

// FailList makes listing the folder fail with err.
func (b *Backend) FailList(folderID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failList[folderID] = err
}

// FailMetadata makes metadata lookups of the file fail with err.
func (b *Backend) FailMetadata(fileID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failMeta[fileID] = err
}

func (b *Backend) Creates() []CreateCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CreateCall(nil), b.creates...)
}

func (b *Backend) Uploads() []UploadCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]UploadCall(nil), b.uploads...)
}

func (b *Backend) ListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists
}

// ParentOf returns the parent id of any node.
func (b *Backend) ParentOf(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.nodes[id]; ok {
		return n.parent
	}
	return ""
}

// Lookup resolves a slash separated path from the root to an id.
func (b *Backend) Lookup(path ...string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := RootID
	for _, name := range path {
		found := false
		for _, cid := range b.nodes[cur].children {
			if b.nodes[cid].name == name {
				cur, found = cid, true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	return cur, true
}

func notFound(op, id string) error {
	return &remote.BackendError{Op: op, ID: id, Status: http.StatusNotFound, Code: "not_found"}
}

func (b *Backend) ListItems(ctx context.Context, folderID string) ([]remote.Item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++

	if err := b.failList[folderID]; err != nil {
		return nil, remote.Wrap("list_items", folderID, err)
	}
	n, ok := b.nodes[folderID]
	if !ok || n.kind != remote.KindFolder {
		return nil, notFound("list_items", folderID)
	}

	items := make([]remote.Item, 0, len(n.children))
	for _, cid := range n.children {
		c := b.nodes[cid]
		items = append(items, remote.Item{ID: c.id, Name: c.name, Kind: c.kind})
	}
	return items, nil
}

func (b *Backend) GetFileMetadata(ctx context.Context, fileID string) (*remote.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failMeta[fileID]; err != nil {
		return nil, remote.Wrap("get_file_metadata", fileID, err)
	}
	n, ok := b.nodes[fileID]
	if !ok || n.kind != remote.KindFile {
		return nil, notFound("get_file_metadata", fileID)
	}
	sum := sha1.Sum(n.content)
	return &remote.Metadata{
		ID:          n.id,
		Name:        n.name,
		ModifiedAt:  n.modifiedAt,
		Size:        int64(len(n.content)),
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

func (b *Backend) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[fileID]
	if !ok || n.kind != remote.KindFile {
		return nil, notFound("download", fileID)
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

func (b *Backend) UploadNew(ctx context.Context, parentID, localPath, name string, mode remote.UploadMode) (*remote.Ref, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, remote.Wrap("upload_new", parentID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.failUpload[name]; err != nil {
		return nil, remote.Wrap("upload_new", parentID, err)
	}
	p, ok := b.nodes[parentID]
	if !ok || p.kind != remote.KindFolder {
		return nil, notFound("upload_new", parentID)
	}
	for _, cid := range p.children {
		if b.nodes[cid].name == name {
			return nil, &remote.BackendError{Op: "upload_new", ID: parentID, Status: http.StatusConflict, Code: "item_name_in_use"}
		}
	}

	n := &node{id: b.newID("f"), name: name, kind: remote.KindFile, parent: parentID, content: content, modifiedAt: b.Now()}
	b.addChild(parentID, n)
	b.uploads = append(b.uploads, UploadCall{ID: n.id, Name: name, Mode: mode})
	return &remote.Ref{ID: n.id, Name: name}, nil
}

func (b *Backend) UpdateContents(ctx context.Context, fileID, localPath string, mode remote.UploadMode) (*remote.Ref, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, remote.Wrap("update_contents", fileID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[fileID]
	if !ok || n.kind != remote.KindFile {
		return nil, notFound("update_contents", fileID)
	}
	if err := b.failUpload[n.name]; err != nil {
		return nil, remote.Wrap("update_contents", fileID, err)
	}

	n.content = content
	n.modifiedAt = b.Now()
	b.uploads = append(b.uploads, UploadCall{ID: n.id, Name: n.name, Mode: mode, Update: true})
	return &remote.Ref{ID: n.id, Name: n.name}, nil
}

func (b *Backend) CreateSubfolder(ctx context.Context, parentID, name string) (*remote.Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.nodes[parentID]
	if !ok || p.kind != remote.KindFolder {
		return nil, notFound("create_subfolder", parentID)
	}
	for _, cid := range p.children {
		if b.nodes[cid].name == name {
			return nil, &remote.BackendError{Op: "create_subfolder", ID: parentID, Status: http.StatusConflict, Code: "item_name_in_use"}
		}
	}

	n := &node{id: b.newID("d"), name: name, kind: remote.KindFolder, parent: parentID}
	b.addChild(parentID, n)
	b.creates = append(b.creates, CreateCall{ParentID: parentID, Name: name, ID: n.id})
	return &remote.Ref{ID: n.id, Name: name}, nil
}

// Tree returns every path below the root mapped to its id, split into files
// and folders, the shape the identity cache is expected to converge to.
func (b *Backend) Tree() (files, folders map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	files = make(map[string]string)
	folders = make(map[string]string)
	var walk func(id, prefix string)
	walk = func(id, prefix string) {
		children := append([]string(nil), b.nodes[id].children...)
		sort.Strings(children)
		for _, cid := range children {
			c := b.nodes[cid]
			p := c.name
			if prefix != "" {
				p = prefix + "/" + c.name
			}
			if c.kind == remote.KindFolder {
				folders[p] = c.id
				walk(c.id, p)
			} else {
				files[p] = c.id
			}
		}
	}
	walk(RootID, "")
	return files, folders
}

var _ remote.Backend = (*Backend)(nil)

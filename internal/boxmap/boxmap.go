// Package boxmap is the identity cache bridging local relative paths to remote
// ids. It keeps files and folders in two separate maps; a path lives in at
// most one of them.
package boxmap

import (
	"errors"
	"fmt"
	"maps"
	"path"
	"strings"
	"sync"
)

// ErrInvalidName marks a remote item name or cached path that cannot be a
// component of a path under the sync root.
var ErrInvalidName = errors.New("boxmap: invalid name")

type Boxmap struct {
	mu      sync.RWMutex
	files   map[string]string
	folders map[string]string
}

func New() *Boxmap {
	return &Boxmap{
		files:   make(map[string]string),
		folders: make(map[string]string),
	}
}

func (b *Boxmap) ResolveFile(rel string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.files[rel]
	return id, ok
}

func (b *Boxmap) ResolveFolder(rel string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.folders[rel]
	return id, ok
}

// InsertFile upserts a file entry, evicting a folder entry at the same path.
func (b *Boxmap) InsertFile(rel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.folders, rel)
	b.files[rel] = id
}

// InsertFolder upserts a folder entry, evicting a file entry at the same path.
func (b *Boxmap) InsertFolder(rel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, rel)
	b.folders[rel] = id
}

// Merge copies every entry of other into b. Entries of other win.
func (b *Boxmap) Merge(other *Boxmap) {
	if other == nil || other == b {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, v := range other.files {
		delete(b.folders, k)
		b.files[k] = v
	}
	for k, v := range other.folders {
		delete(b.files, k)
		b.folders[k] = v
	}
}

// Replace swaps the contents of b for those of other.
func (b *Boxmap) Replace(other *Boxmap) {
	files, folders := other.Files(), other.Folders()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files, b.folders = files, folders
}

func (b *Boxmap) Files() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.files)
}

func (b *Boxmap) Folders() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.folders)
}

// Len returns the number of file and folder entries.
func (b *Boxmap) Len() (files, folders int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files), len(b.folders)
}

// ParentPath returns the folder path holding rel, "" for top level entries.
func ParentPath(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// ValidName rejects item names that would leave or alias their parent folder
// once joined into a path: "", ".", ".." and anything holding a slash.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ValidPath checks every component of a slash separated relative path.
func ValidPath(rel string) error {
	if rel == "" || path.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrInvalidName, rel)
	}
	for _, name := range strings.Split(rel, "/") {
		if ValidName(name) != nil {
			return fmt.Errorf("%w: %q", ErrInvalidName, rel)
		}
	}
	return nil
}

// Join builds a child path, treating "" as the root.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

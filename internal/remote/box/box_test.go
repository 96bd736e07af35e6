package box

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/figaro/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoAccessToken)
}

func TestListItemsPaginates(t *testing.T) {
	fake := newFakeBox(t)
	docs := fake.addFolder("0", "docs")
	a := fake.addFile("0", "a.txt", []byte("a"), time.Now())
	b := fake.addFile("0", "b.txt", []byte("b"), time.Now())
	fake.mu.Lock()
	fake.folders["0"] = append(fake.folders["0"], itemEntry{Type: "web_link", ID: "999", Name: "link"})
	fake.mu.Unlock()

	items, err := fake.client(t).ListItems(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, []remote.Item{
		{ID: docs, Name: "docs", Kind: remote.KindFolder},
		{ID: a, Name: "a.txt", Kind: remote.KindFile},
		{ID: b, Name: "b.txt", Kind: remote.KindFile},
	}, items)
	// page size 2 over four entries
	assert.Equal(t, 2, fake.listPages)
}

func TestListItemsFollowsMarkersToTheEnd(t *testing.T) {
	fake := newFakeBox(t)
	var want []remote.Item
	for i := range 7 {
		name := fmt.Sprintf("f%d.txt", i)
		id := fake.addFile("0", name, []byte(name), time.Now())
		want = append(want, remote.Item{ID: id, Name: name, Kind: remote.KindFile})
	}

	items, err := fake.client(t).ListItems(context.Background(), "0")
	require.NoError(t, err)
	assert.Equal(t, want, items)
	assert.Equal(t, 4, fake.listPages)
}

func TestListItemsEmptyFolder(t *testing.T) {
	fake := newFakeBox(t)
	items, err := fake.client(t).ListItems(context.Background(), "0")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, fake.listPages)
}

func TestListItemsNotFound(t *testing.T) {
	fake := newFakeBox(t)
	_, err := fake.client(t).ListItems(context.Background(), "404")

	require.ErrorIs(t, err, remote.ErrNotFound)
	var be *remote.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "list_items", be.Op)
	assert.Equal(t, "not_found", be.Code)
}

func TestBadTokenIsAccessDenied(t *testing.T) {
	fake := newFakeBox(t)
	c, err := New(Options{APIURL: fake.srv.URL, UploadURL: fake.srv.URL, AccessToken: "wrong"})
	require.NoError(t, err)

	_, err = c.ListItems(context.Background(), "0")
	assert.ErrorIs(t, err, remote.ErrAccessDenied)
}

func TestGetFileMetadataAndDownload(t *testing.T) {
	fake := newFakeBox(t)
	modified := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("PST", -8*3600))
	id := fake.addFile("0", "notes.txt", []byte("hello"), modified)
	c := fake.client(t)

	meta, err := c.GetFileMetadata(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", meta.Name)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", meta.ContentHash)
	assert.True(t, modified.Equal(meta.ModifiedAt))

	body, err := c.Download(context.Background(), id)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = c.Download(context.Background(), "missing")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestCreateSubfolderReusesExisting(t *testing.T) {
	fake := newFakeBox(t)
	c := fake.client(t)

	ref, err := c.CreateSubfolder(context.Background(), "0", "reports")
	require.NoError(t, err)
	assert.Equal(t, "reports", ref.Name)

	again, err := c.CreateSubfolder(context.Background(), "0", "reports")
	require.NoError(t, err)
	assert.Equal(t, ref.ID, again.ID)

	_, err = c.CreateSubfolder(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestSimpleUploadAndUpdate(t *testing.T) {
	fake := newFakeBox(t)
	c := fake.client(t)
	path := writeTemp(t, "local-name.txt", "first")

	ref, err := c.UploadNew(context.Background(), "0", path, "remote.txt", remote.UploadSimple)
	require.NoError(t, err)
	assert.Equal(t, "remote.txt", ref.Name)
	assert.Equal(t, "first", fake.content(ref.ID))

	// same name again is a conflict
	_, err = c.UploadNew(context.Background(), "0", path, "remote.txt", remote.UploadSimple)
	assert.ErrorIs(t, err, remote.ErrConflict)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	updated, err := c.UpdateContents(context.Background(), ref.ID, path, remote.UploadSimple)
	require.NoError(t, err)
	assert.Equal(t, ref.ID, updated.ID)
	assert.Equal(t, "second", fake.content(ref.ID))
	assert.Equal(t, 3, fake.simpleUploads)
}

func TestChunkedUpload(t *testing.T) {
	fake := newFakeBox(t)
	fake.commitPending = 1
	c := fake.client(t)
	path := writeTemp(t, "big.bin", "0123456789") // parts of 4, 4, 2

	ref, err := c.UploadNew(context.Background(), "0", path, "big.bin", remote.UploadChunked)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", fake.content(ref.ID))
	assert.Equal(t, "0,4,8", joinOffsets(fake.partPuts))
	assert.Equal(t, 0, fake.simpleUploads)

	entries, err := os.ReadDir(c.resumeDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "session file removed after commit")
}

func TestChunkedUploadResumes(t *testing.T) {
	fake := newFakeBox(t)
	fake.failPartAt = 4
	c := fake.client(t)
	path := writeTemp(t, "big.bin", "abcdefghijkl")

	_, err := c.UploadNew(context.Background(), "0", path, "big.bin", remote.UploadChunked)
	require.Error(t, err)
	var be *remote.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 500, be.Status)

	entries, err := os.ReadDir(c.resumeDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "session kept for the next run")

	ref, err := c.UploadNew(context.Background(), "0", path, "big.bin", remote.UploadChunked)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijkl", fake.content(ref.ID))
	// part 0 was not sent twice
	assert.Equal(t, "0,4,8", joinOffsets(fake.partPuts))
	assert.Equal(t, 1, fake.commits)
}

func TestChunkedResumeDiscardsChangedFile(t *testing.T) {
	fake := newFakeBox(t)
	fake.failPartAt = 4
	c := fake.client(t)
	path := writeTemp(t, "big.bin", "abcdefghijkl")

	_, err := c.UploadNew(context.Background(), "0", path, "big.bin", remote.UploadChunked)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("ABCDEFGHIJKLMNOP"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	ref, err := c.UploadNew(context.Background(), "0", path, "big.bin", remote.UploadChunked)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJKLMNOP", fake.content(ref.ID))
	assert.Equal(t, "0,0,4,8,12", joinOffsets(fake.partPuts))
}

func TestChunkedUpdate(t *testing.T) {
	fake := newFakeBox(t)
	id := fake.addFile("0", "big.bin", []byte("old"), time.Now())
	c := fake.client(t)
	path := writeTemp(t, "big.bin", "new-content")

	ref, err := c.UpdateContents(context.Background(), id, path, remote.UploadChunked)
	require.NoError(t, err)
	assert.Equal(t, id, ref.ID)
	assert.Equal(t, "new-content", fake.content(id))
}

func TestConflictsDecoding(t *testing.T) {
	list := &apiError{}
	list.ContextInfo.Conflicts = []byte(`[{"type":"folder","id":"1","name":"a"}]`)
	assert.Equal(t, []itemEntry{{Type: "folder", ID: "1", Name: "a"}}, list.conflicts())

	one := &apiError{}
	one.ContextInfo.Conflicts = []byte(`{"type":"file","id":"2","name":"b"}`)
	assert.Equal(t, []itemEntry{{Type: "file", ID: "2", Name: "b"}}, one.conflicts())

	assert.Nil(t, (&apiError{}).conflicts())
}

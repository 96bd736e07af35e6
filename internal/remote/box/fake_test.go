package box

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const testToken = "test-token"

type fakeFile struct {
	entry   fileEntry
	parent  string
	content []byte
}

type fakeSession struct {
	id       string
	folderID string
	name     string
	fileID   string
	size     int64
	parts    map[int64][]byte
}

// fakeBox is a small in-memory Box API.
type fakeBox struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	next     int
	folders  map[string][]itemEntry // children by folder id
	files    map[string]*fakeFile
	sessions map[string]*fakeSession

	partSize      int64
	failPartAt    int64 // offset to fail once, -1 for none
	commitPending int   // 202 answers before the commit succeeds
	partPuts      []int64
	simpleUploads int
	commits       int
	listPages     int
}

func newFakeBox(t *testing.T) *fakeBox {
	f := &fakeBox{
		t:          t,
		folders:    map[string][]itemEntry{"0": nil},
		files:      make(map[string]*fakeFile),
		sessions:   make(map[string]*fakeSession),
		partSize:   4,
		failPartAt: -1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /folders/{id}/items", f.listItems)
	mux.HandleFunc("POST /folders", f.createFolder)
	mux.HandleFunc("GET /files/{id}", f.getFile)
	mux.HandleFunc("GET /files/{id}/content", f.download)
	mux.HandleFunc("POST /files/content", f.uploadNew)
	mux.HandleFunc("POST /files/{id}/content", f.uploadVersion)
	mux.HandleFunc("POST /files/upload_sessions", f.createSession)
	mux.HandleFunc("POST /files/{id}/upload_sessions", f.createSession)
	mux.HandleFunc("PUT /sessions/{sid}", f.uploadPart)
	mux.HandleFunc("GET /sessions/{sid}", f.sessionStatus)
	mux.HandleFunc("POST /sessions/{sid}/commit", f.commit)

	f.srv = httptest.NewServer(f.auth(mux))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBox) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Options{
		APIURL:      f.srv.URL,
		UploadURL:   f.srv.URL,
		AccessToken: testToken,
		ResumeDir:   t.TempDir(),
		PageSize:    2,
		MaxPollWait: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fakeBox) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeBoxError(w, http.StatusUnauthorized, "unauthorized", "bad token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakeBox) newID() string {
	f.next++
	return strconv.Itoa(100 + f.next)
}

func (f *fakeBox) addFolder(parent, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	f.folders[parent] = append(f.folders[parent], itemEntry{Type: typeFolder, ID: id, Name: name})
	f.folders[id] = nil
	return id
}

func (f *fakeBox) addFile(parent, name string, content []byte, modified time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putFileLocked(parent, name, content, modified)
}

func (f *fakeBox) putFileLocked(parent, name string, content []byte, modified time.Time) string {
	id := f.newID()
	sum := sha1.Sum(content)
	f.files[id] = &fakeFile{
		entry:   fileEntry{Type: typeFile, ID: id, Name: name, Size: int64(len(content)), SHA1: hex.EncodeToString(sum[:]), ModifiedAt: modified},
		parent:  parent,
		content: content,
	}
	f.folders[parent] = append(f.folders[parent], itemEntry{Type: typeFile, ID: id, Name: name})
	return id
}

func (f *fakeBox) setContentLocked(id string, content []byte) {
	sum := sha1.Sum(content)
	file := f.files[id]
	file.content = content
	file.entry.Size = int64(len(content))
	file.entry.SHA1 = hex.EncodeToString(sum[:])
	file.entry.ModifiedAt = time.Now().UTC().Truncate(time.Second)
}

func (f *fakeBox) content(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file, ok := f.files[id]; ok {
		return string(file.content)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, _ := jsonMarshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeBoxError(w http.ResponseWriter, status int, code, msg string, conflicts any) {
	body := map[string]any{"type": "error", "status": status, "code": code, "message": msg, "request_id": "req-1"}
	if conflicts != nil {
		body["context_info"] = map[string]any{"conflicts": conflicts}
	}
	writeJSON(w, status, body)
}

func (f *fakeBox) listItems(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	children, ok := f.folders[r.PathValue("id")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "folder not found", nil)
		return
	}
	q := r.URL.Query()
	if q.Get("usemarker") != "true" || q.Has("offset") {
		writeBoxError(w, http.StatusBadRequest, "bad_request", "offset pagination is not supported", nil)
		return
	}
	start := 0
	if m := q.Get("marker"); m != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(m, "m"))
		if err != nil || !strings.HasPrefix(m, "m") || n > len(children) {
			writeBoxError(w, http.StatusBadRequest, "invalid_marker", "marker is invalid", nil)
			return
		}
		start = n
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	end := min(start+limit, len(children))
	page := itemCollection{Limit: limit, Entries: []itemEntry{}}
	if start < end {
		page.Entries = children[start:end]
	}
	if end < len(children) {
		page.NextMarker = "m" + strconv.Itoa(end)
	}
	f.listPages++
	writeJSON(w, http.StatusOK, page)
}

func (f *fakeBox) createFolder(w http.ResponseWriter, r *http.Request) {
	var body createFolderRequest
	data, _ := io.ReadAll(r.Body)
	if err := jsonUnmarshal(data, &body); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[body.Parent.ID]; !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "parent not found", nil)
		return
	}
	for _, c := range f.folders[body.Parent.ID] {
		if c.Name == body.Name {
			writeBoxError(w, http.StatusConflict, codeNameInUse, "Item with the same name already exists", []itemEntry{c})
			return
		}
	}
	id := f.newID()
	entry := itemEntry{Type: typeFolder, ID: id, Name: body.Name}
	f.folders[body.Parent.ID] = append(f.folders[body.Parent.ID], entry)
	f.folders[id] = nil
	writeJSON(w, http.StatusCreated, entry)
}

func (f *fakeBox) getFile(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[r.PathValue("id")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "file not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, file.entry)
}

func (f *fakeBox) download(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[r.PathValue("id")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "file not found", nil)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(file.content)
}

func (f *fakeBox) readUpload(w http.ResponseWriter, r *http.Request) (*uploadAttributes, []byte, bool) {
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return nil, nil, false
	}
	var attrs uploadAttributes
	if err := jsonUnmarshal([]byte(r.FormValue("attributes")), &attrs); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", "attributes: "+err.Error(), nil)
		return nil, nil, false
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", "file: "+err.Error(), nil)
		return nil, nil, false
	}
	defer file.Close()
	content, _ := io.ReadAll(file)
	return &attrs, content, true
}

func (f *fakeBox) uploadNew(w http.ResponseWriter, r *http.Request) {
	attrs, content, ok := f.readUpload(w, r)
	if !ok {
		return
	}
	if attrs.Parent == nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", "parent missing", nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.simpleUploads++
	for _, c := range f.folders[attrs.Parent.ID] {
		if c.Name == attrs.Name {
			writeBoxError(w, http.StatusConflict, codeNameInUse, "exists", c)
			return
		}
	}
	id := f.putFileLocked(attrs.Parent.ID, attrs.Name, content, time.Now().UTC().Truncate(time.Second))
	writeJSON(w, http.StatusCreated, fileCollection{TotalCount: 1, Entries: []fileEntry{f.files[id].entry}})
}

func (f *fakeBox) uploadVersion(w http.ResponseWriter, r *http.Request) {
	_, content, ok := f.readUpload(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.simpleUploads++
	id := r.PathValue("id")
	if _, ok := f.files[id]; !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "file not found", nil)
		return
	}
	f.setContentLocked(id, content)
	writeJSON(w, http.StatusCreated, fileCollection{TotalCount: 1, Entries: []fileEntry{f.files[id].entry}})
}

func (f *fakeBox) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	data, _ := io.ReadAll(r.Body)
	if err := jsonUnmarshal(data, &body); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{
		id:       "S" + f.newID(),
		folderID: body.FolderID,
		name:     body.FileName,
		fileID:   r.PathValue("id"),
		size:     body.FileSize,
		parts:    make(map[int64][]byte),
	}
	f.sessions[s.id] = s

	base := f.srv.URL + "/sessions/" + s.id
	writeJSON(w, http.StatusCreated, uploadSession{
		ID:               s.id,
		Type:             "upload_session",
		PartSize:         f.partSize,
		TotalParts:       int(divideAndCeil(s.size, f.partSize)),
		SessionExpiresAt: time.Now().Add(24 * time.Hour),
		Endpoints:        sessionEndpoints{UploadPart: base, Commit: base + "/commit", Status: base},
	})
}

func (f *fakeBox) uploadPart(w http.ResponseWriter, r *http.Request) {
	chunk, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[r.PathValue("sid")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}

	var start, end, total int64
	if _, err := fmt.Sscanf(r.Header.Get("Content-Range"), "bytes %d-%d/%d", &start, &end, &total); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_range", err.Error(), nil)
		return
	}
	sum := sha1.Sum(chunk)
	if r.Header.Get("Digest") != "sha="+base64.StdEncoding.EncodeToString(sum[:]) {
		writeBoxError(w, http.StatusPreconditionFailed, "bad_digest", "digest mismatch", nil)
		return
	}
	if end-start+1 != int64(len(chunk)) || total != s.size {
		writeBoxError(w, http.StatusRequestedRangeNotSatisfiable, "bad_range", "range mismatch", nil)
		return
	}
	if start == f.failPartAt {
		f.failPartAt = -1
		writeBoxError(w, http.StatusInternalServerError, "internal_error", "boom", nil)
		return
	}

	f.partPuts = append(f.partPuts, start)
	s.parts[start] = chunk
	writeJSON(w, http.StatusOK, uploadPartResponse{Part: uploadPart{
		PartID: fmt.Sprintf("P%d", start),
		Offset: start,
		Size:   int64(len(chunk)),
		SHA1:   hex.EncodeToString(sum[:]),
	}})
}

func (f *fakeBox) sessionStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[r.PathValue("sid")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, uploadSession{ID: s.id, PartSize: f.partSize, NumPartsProcessed: len(s.parts)})
}

func (f *fakeBox) commit(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body commitRequest
	if err := jsonUnmarshal(data, &body); err != nil {
		writeBoxError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[r.PathValue("sid")]
	if !ok {
		writeBoxError(w, http.StatusNotFound, "not_found", "session not found", nil)
		return
	}
	if f.commitPending > 0 {
		f.commitPending--
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	offsets := make([]int64, 0, len(body.Parts))
	for _, p := range body.Parts {
		offsets = append(offsets, p.Offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	var assembled []byte
	for _, off := range offsets {
		assembled = append(assembled, s.parts[off]...)
	}
	sum := sha1.Sum(assembled)
	if int64(len(assembled)) != s.size || r.Header.Get("Digest") != "sha="+base64.StdEncoding.EncodeToString(sum[:]) {
		writeBoxError(w, http.StatusPreconditionFailed, "bad_digest", "file digest mismatch", nil)
		return
	}

	f.commits++
	delete(f.sessions, s.id)
	var id string
	if s.fileID != "" {
		id = s.fileID
		f.setContentLocked(id, assembled)
	} else {
		id = f.putFileLocked(s.folderID, s.name, assembled, time.Now().UTC().Truncate(time.Second))
	}
	writeJSON(w, http.StatusCreated, fileCollection{TotalCount: 1, Entries: []fileEntry{f.files[id].entry}})
}

func joinOffsets(offsets []int64) string {
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = strconv.FormatInt(o, 10)
	}
	return strings.Join(parts, ",")
}

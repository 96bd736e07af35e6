package box

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/utils"
)

// chunkTarget is either a new file (ParentID + Name) or a new version of FileID.
type chunkTarget struct {
	ParentID string
	Name     string
	FileID   string
}

func (t chunkTarget) op() (string, string) {
	if t.FileID != "" {
		return "update_contents", t.FileID
	}
	return "upload_new", t.ParentID
}

func (t chunkTarget) key() string {
	if t.FileID != "" {
		return "file/" + t.FileID
	}
	return "folder/" + t.ParentID + "/" + t.Name
}

// sessionState is what survives an interrupted chunked upload.
type sessionState struct {
	SessionID   string       `json:"sessionId"`
	UploadURL   string       `json:"uploadUrl"`
	CommitURL   string       `json:"commitUrl"`
	StatusURL   string       `json:"statusUrl"`
	Target      string       `json:"target"`
	FilePath    string       `json:"filePath"`
	Fingerprint string       `json:"fingerprint"`
	Size        int64        `json:"size"`
	PartSize    int64        `json:"partSize"`
	TotalParts  int          `json:"totalParts"`
	Parts       []uploadPart `json:"parts"`
	ExpiresAt   time.Time    `json:"expiresAt"`
}

type chunkedUpload struct {
	client *Client
	target chunkTarget
	path   string
	info   os.FileInfo
	state  *sessionState
}

func (c *Client) uploadChunked(ctx context.Context, target chunkTarget, localPath string) (*remote.Ref, error) {
	op, id := target.op()

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, remote.Wrap(op, id, err)
	}

	u := &chunkedUpload{client: c, target: target, path: localPath, info: info}
	ref, err := u.run(ctx)
	if err != nil {
		return nil, remote.Wrap(op, id, err)
	}
	return ref, nil
}

func (u *chunkedUpload) run(ctx context.Context) (*remote.Ref, error) {
	if err := utils.EnsureDir(u.client.resumeDir); err != nil {
		return nil, fmt.Errorf("ensure resume dir: %w", err)
	}

	if err := u.loadSession(ctx); err != nil {
		return nil, err
	}
	if u.state == nil {
		if err := u.createSession(ctx); err != nil {
			return nil, err
		}
	} else {
		slog.Info("box chunked upload resume", "path", u.path, "session", u.state.SessionID,
			"parts", fmt.Sprintf("%d/%d", len(u.state.Parts), u.state.TotalParts))
	}

	file, err := os.Open(u.path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	if err := u.uploadParts(ctx, file); err != nil {
		return nil, err
	}

	digest, err := wholeFileDigest(file)
	if err != nil {
		return nil, err
	}

	ref, err := u.commit(ctx, digest)
	if err != nil {
		return nil, err
	}

	_ = os.Remove(u.sessionFilePath())
	return ref, nil
}

func (u *chunkedUpload) createSession(ctx context.Context) error {
	op, id := u.target.op()
	body := &createSessionRequest{FileSize: u.info.Size()}
	url := u.client.uploadURL + "/files/upload_sessions"
	if u.target.FileID != "" {
		url = u.client.uploadURL + "/files/" + u.target.FileID + "/upload_sessions"
	} else {
		body.FolderID = u.target.ParentID
		body.FileName = u.target.Name
	}

	var session uploadSession
	var apiErr apiError
	resp, err := u.client.api.R().
		SetContext(ctx).
		SetBody(body).
		SetSuccessResult(&session).
		SetErrorResult(&apiErr).
		Post(url)
	if err := check(resp, err, &apiErr, op, id); err != nil {
		return err
	}
	if session.ID == "" || session.PartSize <= 0 {
		return fmt.Errorf("invalid upload session response")
	}

	endpoints := session.Endpoints
	if endpoints.UploadPart == "" {
		endpoints.UploadPart = u.client.uploadURL + "/files/upload_sessions/" + session.ID
	}
	if endpoints.Commit == "" {
		endpoints.Commit = endpoints.UploadPart + "/commit"
	}
	if endpoints.Status == "" {
		endpoints.Status = endpoints.UploadPart
	}

	totalParts := session.TotalParts
	if totalParts <= 0 {
		totalParts = int(divideAndCeil(u.info.Size(), session.PartSize))
	}

	u.state = &sessionState{
		SessionID:   session.ID,
		UploadURL:   endpoints.UploadPart,
		CommitURL:   endpoints.Commit,
		StatusURL:   endpoints.Status,
		Target:      u.target.key(),
		FilePath:    u.path,
		Fingerprint: u.fingerprint(),
		Size:        u.info.Size(),
		PartSize:    session.PartSize,
		TotalParts:  totalParts,
		ExpiresAt:   session.SessionExpiresAt,
	}
	slog.Debug("box chunked upload session", "path", u.path, "session", session.ID,
		"size", humanize.Bytes(uint64(u.info.Size())), "partSize", humanize.Bytes(uint64(session.PartSize)), "parts", totalParts)
	return u.saveSession()
}

func (u *chunkedUpload) uploadParts(ctx context.Context, file *os.File) error {
	done := make(map[int64]bool, len(u.state.Parts))
	for _, p := range u.state.Parts {
		done[p.Offset] = true
	}

	buf := make([]byte, u.state.PartSize)
	for offset := int64(0); offset < u.state.Size; offset += u.state.PartSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done[offset] {
			continue
		}

		size := min(u.state.PartSize, u.state.Size-offset)
		chunk := buf[:size]
		if _, err := file.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read part at %d: %w", offset, err)
		}

		part, err := u.uploadPart(ctx, chunk, offset)
		if err != nil {
			return err
		}

		u.state.Parts = append(u.state.Parts, *part)
		if err := u.saveSession(); err != nil {
			return err
		}
	}
	return nil
}

func (u *chunkedUpload) uploadPart(ctx context.Context, chunk []byte, offset int64) (*uploadPart, error) {
	op, id := u.target.op()
	sum := sha1.Sum(chunk)
	end := offset + int64(len(chunk)) - 1

	var out uploadPartResponse
	var apiErr apiError
	resp, err := u.client.api.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, u.state.Size)).
		SetHeader("Digest", "sha="+base64.StdEncoding.EncodeToString(sum[:])).
		SetBody(chunk).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Put(u.state.UploadURL)
	if err := check(resp, err, &apiErr, op, id); err != nil {
		return nil, fmt.Errorf("upload part at %d: %w", offset, err)
	}

	part := out.Part
	if part.PartID == "" {
		return nil, fmt.Errorf("upload part at %d: no part id returned", offset)
	}
	if part.SHA1 == "" {
		part.SHA1 = hex.EncodeToString(sum[:])
	}
	part.Offset, part.Size = offset, int64(len(chunk))
	return &part, nil
}

// commit finalizes the session. Box answers 202 while it is still assembling
// the parts; the commit is then re-sent after Retry-After.
func (u *chunkedUpload) commit(ctx context.Context, digest string) (*remote.Ref, error) {
	op, id := u.target.op()

	parts := append([]uploadPart(nil), u.state.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Offset < parts[j].Offset })

	body := &commitRequest{Parts: parts}
	if u.target.FileID == "" {
		body.Attributes = &uploadAttributes{
			ContentModifiedAt: u.info.ModTime().UTC().Format(time.RFC3339),
		}
	}

	for attempt := 1; ; attempt++ {
		// no success result: the 202 body may be empty
		var apiErr apiError
		resp, err := u.client.api.R().
			SetContext(ctx).
			SetHeader("Digest", "sha="+digest).
			SetBody(body).
			SetErrorResult(&apiErr).
			Post(u.state.CommitURL)
		if err := check(resp, err, &apiErr, op, id); err != nil {
			return nil, fmt.Errorf("commit session %s: %w", u.state.SessionID, err)
		}

		if resp.StatusCode == http.StatusAccepted {
			if attempt >= maxCommitPolls {
				return nil, fmt.Errorf("commit session %s: still processing after %d polls", u.state.SessionID, attempt)
			}
			wait := u.client.retryAfter(resp.GetHeader("Retry-After"))
			slog.Debug("box commit processing", "session", u.state.SessionID, "wait", wait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		var out fileCollection
		if err := jsonUnmarshal(resp.Bytes(), &out); err != nil {
			return nil, fmt.Errorf("commit session %s: decode response: %w", u.state.SessionID, err)
		}
		if len(out.Entries) == 0 {
			return nil, fmt.Errorf("commit session %s: no file entry returned", u.state.SessionID)
		}
		f := out.Entries[0]
		return &remote.Ref{ID: f.ID, Name: f.Name}, nil
	}
}

func (c *Client) retryAfter(header string) time.Duration {
	wait := time.Second
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		wait = time.Duration(secs) * time.Second
	}
	return min(wait, c.maxPollWait)
}

// loadSession picks up a saved session for the same target and unchanged
// file, provided Box still knows about it.
func (u *chunkedUpload) loadSession(ctx context.Context) error {
	data, err := os.ReadFile(u.sessionFilePath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("read resume file: %w", err)
	}

	var s sessionState
	if err := jsonUnmarshal(data, &s); err != nil {
		slog.Warn("box discard resume file", "path", u.path, "error", err)
		return u.discard()
	}

	switch {
	case s.Target != u.target.key(), s.FilePath != u.path, s.Fingerprint != u.fingerprint(), s.Size != u.info.Size():
		return u.discard()
	case !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt):
		return u.discard()
	}

	var apiErr apiError
	resp, err := u.client.api.R().
		SetContext(ctx).
		SetErrorResult(&apiErr).
		Get(s.StatusURL)
	if err := check(resp, err, &apiErr, "upload_session", s.SessionID); err != nil {
		if errors.Is(err, remote.ErrNotFound) || (resp != nil && resp.Response != nil && resp.StatusCode == http.StatusGone) {
			return u.discard()
		}
		return err
	}

	u.state = &s
	return nil
}

func (u *chunkedUpload) saveSession() error {
	data, err := jsonMarshal(u.state)
	if err != nil {
		return fmt.Errorf("encode resume file: %w", err)
	}
	if _, err := utils.WriteFileAtomic(u.sessionFilePath(), bytes.NewReader(data), ""); err != nil {
		return fmt.Errorf("write resume file: %w", err)
	}
	return nil
}

func (u *chunkedUpload) discard() error {
	u.state = nil
	if err := os.Remove(u.sessionFilePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (u *chunkedUpload) fingerprint() string {
	return fmt.Sprintf("%d:%d", u.info.Size(), u.info.ModTime().UnixNano())
}

func (u *chunkedUpload) sessionFilePath() string {
	hash := sha1.Sum([]byte(u.target.key() + "|" + u.path))
	return filepath.Join(u.client.resumeDir, hex.EncodeToString(hash[:])+".json")
}

func wholeFileDigest(file *os.File) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha1.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func divideAndCeil(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	quotient := numerator / denominator
	if numerator%denominator != 0 {
		quotient++
	}
	return quotient
}

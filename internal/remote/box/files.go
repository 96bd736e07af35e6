package box

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/figaro/internal/remote"
)

func (c *Client) GetFileMetadata(ctx context.Context, fileID string) (*remote.Metadata, error) {
	var file fileEntry
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("id", fileID).
		SetQueryParam("fields", "id,type,name,size,sha1,modified_at").
		SetSuccessResult(&file).
		SetErrorResult(&apiErr).
		Get("/files/{id}")
	if err := check(resp, err, &apiErr, "get_file_metadata", fileID); err != nil {
		return nil, err
	}

	return &remote.Metadata{
		ID:          file.ID,
		Name:        file.Name,
		ModifiedAt:  file.ModifiedAt,
		Size:        file.Size,
		ContentHash: file.SHA1,
	}, nil
}

// Download streams /files/{id}/content. Redirects to the download host are
// followed by the client.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.api.R().
		SetContext(ctx).
		SetPathParam("id", fileID).
		DisableAutoReadResponse().
		Get("/files/{id}/content")
	if err != nil {
		if resp != nil && resp.Response != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &remote.BackendError{Op: "download", ID: fileID, Err: err}
	}
	if resp.IsErrorState() {
		return nil, readError(resp, "download", fileID)
	}
	if resp.StatusCode == http.StatusAccepted {
		// content is not ready yet, Box asks to come back after Retry-After
		resp.Body.Close()
		return nil, &remote.BackendError{
			Op:     "download",
			ID:     fileID,
			Status: resp.StatusCode,
			Code:   "not_ready",
			Err:    fmt.Errorf("retry after %s", resp.GetHeader("Retry-After")),
		}
	}
	return resp.Body, nil
}

func (c *Client) UploadNew(ctx context.Context, parentID, localPath, name string, mode remote.UploadMode) (*remote.Ref, error) {
	if mode == remote.UploadChunked {
		return c.uploadChunked(ctx, chunkTarget{ParentID: parentID, Name: name}, localPath)
	}

	attrs := &uploadAttributes{Name: name, Parent: &parentRef{ID: parentID}}
	return c.uploadSimple(ctx, c.uploadURL+"/files/content", attrs, localPath, "upload_new", parentID)
}

func (c *Client) UpdateContents(ctx context.Context, fileID, localPath string, mode remote.UploadMode) (*remote.Ref, error) {
	if mode == remote.UploadChunked {
		return c.uploadChunked(ctx, chunkTarget{FileID: fileID}, localPath)
	}

	attrs := &uploadAttributes{}
	return c.uploadSimple(ctx, c.uploadURL+"/files/"+fileID+"/content", attrs, localPath, "update_contents", fileID)
}

// uploadSimple sends one multipart request. Box requires the attributes part
// to precede the file part.
func (c *Client) uploadSimple(ctx context.Context, url string, attrs *uploadAttributes, localPath, op, id string) (*remote.Ref, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, remote.Wrap(op, id, err)
	}
	attrs.ContentModifiedAt = info.ModTime().UTC().Format(time.RFC3339)

	attrJSON, err := jsonMarshal(attrs)
	if err != nil {
		return nil, remote.Wrap(op, id, fmt.Errorf("encode attributes: %w", err))
	}

	var out fileCollection
	var apiErr apiError
	resp, err := c.api.R().
		SetContext(ctx).
		SetFormData(map[string]string{"attributes": string(attrJSON)}).
		SetFile("file", localPath).
		SetSuccessResult(&out).
		SetErrorResult(&apiErr).
		Post(url)
	if err := check(resp, err, &apiErr, op, id); err != nil {
		return nil, err
	}
	if len(out.Entries) == 0 {
		return nil, &remote.BackendError{Op: op, ID: id, Status: resp.StatusCode, Err: fmt.Errorf("no file entry returned for %s", filepath.Base(localPath))}
	}

	f := out.Entries[0]
	return &remote.Ref{ID: f.ID, Name: f.Name}, nil
}

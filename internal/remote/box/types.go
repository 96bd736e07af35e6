package box

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	typeFile   = "file"
	typeFolder = "folder"
)

type itemEntry struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// itemCollection is a marker-paginated folder listing page. An empty
// NextMarker ends the listing.
type itemCollection struct {
	Limit      int         `json:"limit"`
	NextMarker string      `json:"next_marker"`
	Entries    []itemEntry `json:"entries"`
}

type fileEntry struct {
	Type       string    `json:"type"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SHA1       string    `json:"sha1"`
	ModifiedAt time.Time `json:"modified_at"`
}

type fileCollection struct {
	TotalCount int         `json:"total_count"`
	Entries    []fileEntry `json:"entries"`
}

type parentRef struct {
	ID string `json:"id"`
}

type createFolderRequest struct {
	Name   string    `json:"name"`
	Parent parentRef `json:"parent"`
}

type uploadAttributes struct {
	Name              string     `json:"name,omitempty"`
	Parent            *parentRef `json:"parent,omitempty"`
	ContentModifiedAt string     `json:"content_modified_at,omitempty"`
}

type createSessionRequest struct {
	FolderID string `json:"folder_id,omitempty"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name,omitempty"`
}

type sessionEndpoints struct {
	UploadPart string `json:"upload_part"`
	Commit     string `json:"commit"`
	Abort      string `json:"abort"`
	ListParts  string `json:"list_parts"`
	Status     string `json:"status"`
}

type uploadSession struct {
	ID                string           `json:"id"`
	Type              string           `json:"type"`
	PartSize          int64            `json:"part_size"`
	TotalParts        int              `json:"total_parts"`
	NumPartsProcessed int              `json:"num_parts_processed"`
	SessionExpiresAt  time.Time        `json:"session_expires_at"`
	Endpoints         sessionEndpoints `json:"session_endpoints"`
}

type uploadPart struct {
	PartID string `json:"part_id"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA1   string `json:"sha1"`
}

type uploadPartResponse struct {
	Part uploadPart `json:"part"`
}

type commitRequest struct {
	Parts      []uploadPart      `json:"parts"`
	Attributes *uploadAttributes `json:"attributes,omitempty"`
}

// apiError is the body Box returns with every 4xx and 5xx.
type apiError struct {
	Type        string `json:"type"`
	Status      int    `json:"status"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	RequestID   string `json:"request_id"`
	ContextInfo struct {
		Conflicts json.RawMessage `json:"conflicts"`
	} `json:"context_info"`
}

func (e *apiError) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RequestID != "" {
		msg += " (request " + e.RequestID + ")"
	}
	return msg
}

// conflicts decodes context_info.conflicts, which is a list for folders and a
// single object for files.
func (e *apiError) conflicts() []itemEntry {
	raw := e.ContextInfo.Conflicts
	if len(raw) == 0 {
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		var list []itemEntry
		if err := jsonUnmarshal(raw, &list); err == nil {
			return list
		}
		return nil
	}
	var one itemEntry
	if err := jsonUnmarshal(raw, &one); err == nil && one.ID != "" {
		return []itemEntry{one}
	}
	return nil
}

package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: name already in use")
	ErrAccessDenied = errors.New("remote: access denied")
	ErrRateLimited  = errors.New("remote: rate limited")
)

// BackendError wraps any failure of a Backend call.
type BackendError struct {
	Op     string // list_items, get_file_metadata, download, upload_new, update_contents, create_subfolder
	ID     string // folder or file id the call was about
	Status int    // HTTP status when known
	Code   string // backend specific error code
	Err    error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("backend %s %q", e.Op, e.ID)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is maps HTTP statuses onto the package sentinels, so callers can use
// errors.Is(err, remote.ErrNotFound) regardless of the backend.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrAccessDenied:
		return e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// Wrap returns err as a *BackendError for op, keeping an existing one intact.
func Wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, ID: id, Err: err}
}

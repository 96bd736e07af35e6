// Package box implements remote.Backend on top of the Box Content API v2.0.
package box

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/figaro/internal/remote"
	"github.com/openmined/figaro/internal/version"
)

const (
	DefaultAPIURL    = "https://api.box.com/2.0"
	DefaultUploadURL = "https://upload.box.com/api/2.0"

	defaultPageSize = 1000
	maxCommitPolls  = 60
	maxPollWait     = 30 * time.Second
	errorBodyLimit  = 64 * 1024

	codeNameInUse = "item_name_in_use"
)

var ErrNoAccessToken = errors.New("box: access token missing")

type Options struct {
	APIURL      string
	UploadURL   string
	AccessToken string

	// ResumeDir keeps chunked upload sessions between runs.
	ResumeDir string

	// PageSize is the folder listing page size, at most 1000.
	PageSize int

	// Timeout bounds a whole request, body included. Zero means none.
	Timeout time.Duration

	// MaxPollWait caps the Retry-After wait while a commit is processed.
	MaxPollWait time.Duration
}

type Client struct {
	api         *req.Client
	uploadURL   string
	resumeDir   string
	pageSize    int
	maxPollWait time.Duration
}

func New(opts Options) (*Client, error) {
	if opts.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	apiURL := strings.TrimRight(opts.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	uploadURL := strings.TrimRight(opts.UploadURL, "/")
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	resumeDir := opts.ResumeDir
	if resumeDir == "" {
		resumeDir = filepath.Join(os.TempDir(), "figaro-upload-sessions")
	}

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}

	pollWait := opts.MaxPollWait
	if pollWait <= 0 {
		pollWait = maxPollWait
	}

	api := req.C().
		SetBaseURL(apiURL).
		SetCommonBearerAuthToken(opts.AccessToken).
		SetUserAgent(version.UserAgent()).
		SetTimeout(opts.Timeout).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Client{
		api:         api,
		uploadURL:   uploadURL,
		resumeDir:   resumeDir,
		pageSize:    pageSize,
		maxPollWait: pollWait,
	}, nil
}

// check turns a transport failure or an error status into a *remote.BackendError.
func check(resp *req.Response, reqErr error, apiErr *apiError, op, id string) error {
	if resp != nil && resp.Response != nil && resp.IsErrorState() {
		be := &remote.BackendError{Op: op, ID: id, Status: resp.StatusCode}
		if apiErr != nil && apiErr.Code != "" {
			be.Code = apiErr.Code
			be.Err = apiErr
		} else {
			be.Err = errors.New(http.StatusText(resp.StatusCode))
		}
		return be
	}
	if reqErr != nil {
		return &remote.BackendError{Op: op, ID: id, Err: reqErr}
	}
	return nil
}

// readError drains a streamed error response.
func readError(resp *req.Response, op, id string) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var apiErr apiError
	if len(body) > 0 {
		_ = jsonUnmarshal(body, &apiErr)
	}
	return check(resp, nil, &apiErr, op, id)
}

var _ remote.Backend = (*Client)(nil)

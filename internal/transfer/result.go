package transfer

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/openmined/figaro/internal/change"
	"github.com/openmined/figaro/internal/remote"
)

type Outcome string

const (
	Created    Outcome = "CREATED"
	Updated    Outcome = "UPDATED"
	Skipped    Outcome = "SKIPPED"
	Downloaded Outcome = "DOWNLOADED"
	Failed     Outcome = "FAILED"
)

// Result is the outcome of one file transfer.
type Result struct {
	Path      string
	Direction change.Direction
	Outcome   Outcome
	ID        string
	Size      int64
	Mode      remote.UploadMode
	Message   string
	Err       error
}

func (r *Result) describe() {
	switch r.Outcome {
	case Created:
		r.Message = fmt.Sprintf("File %q uploaded with id %s (%s, %s)", r.Path, r.ID, humanize.Bytes(uint64(r.Size)), r.Mode)
	case Updated:
		r.Message = fmt.Sprintf("File %q has been updated (%s, %s)", r.Path, humanize.Bytes(uint64(r.Size)), r.Mode)
	case Downloaded:
		r.Message = fmt.Sprintf("File %q has been downloaded (%s)", r.Path, humanize.Bytes(uint64(r.Size)))
	case Skipped:
		r.Message = fmt.Sprintf("File %q is up to date, skipping %s", r.Path, r.Direction)
	case Failed:
		r.Message = fmt.Sprintf("File %q failed: %v", r.Path, r.Err)
	}
}

package syncer

import (
	"fmt"
	"strings"

	"github.com/openmined/figaro/internal/transfer"
)

// Report collects everything a sync run did, in processing order.
type Report struct {
	Results []*transfer.Result

	// CreatedFolders lists folders created on the remote during an upload, or
	// locally during a download.
	CreatedFolders []string
}

func (r *Report) add(results []*transfer.Result) {
	r.Results = append(r.Results, results...)
}

// Count returns the number of results with the given outcome.
func (r *Report) Count(o transfer.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Summary is a one-line tally, e.g. "2 created, 1 skipped, 1 failed".
func (r *Report) Summary() string {
	var parts []string
	if n := len(r.CreatedFolders); n > 0 {
		parts = append(parts, fmt.Sprintf("%d folders created", n))
	}
	for _, o := range []transfer.Outcome{transfer.Created, transfer.Updated, transfer.Downloaded, transfer.Skipped, transfer.Failed} {
		if n := r.Count(o); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(o))))
		}
	}
	if len(parts) == 0 {
		return "nothing to do"
	}
	return strings.Join(parts, ", ")
}

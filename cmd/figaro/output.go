package main

import (
	"fmt"
	"io"

	"github.com/openmined/figaro/internal/syncer"
	"github.com/openmined/figaro/internal/transfer"
)

func outcomeLabel(o transfer.Outcome) string {
	label := fmt.Sprintf("%-10s", o)
	switch o {
	case transfer.Created, transfer.Downloaded:
		return green(label)
	case transfer.Updated:
		return cyan(label)
	case transfer.Failed:
		return red(label)
	default:
		return gray(label)
	}
}

// printReport writes one line per folder and file, then the tally.
func printReport(w io.Writer, rep *syncer.Report) {
	if rep == nil {
		return
	}
	for _, dir := range rep.CreatedFolders {
		fmt.Fprintf(w, "%s Folder %q created\n", yellow(fmt.Sprintf("%-10s", "FOLDER")), dir)
	}
	for _, res := range rep.Results {
		fmt.Fprintf(w, "%s %s\n", outcomeLabel(res.Outcome), res.Message)
	}
	fmt.Fprintln(w, rep.Summary())
}

package cliutil

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Oudwins/comfyrunner/internals/history"
	"github.com/Oudwins/comfyrunner/internals/schemas"
	"github.com/Oudwins/comfyrunner/internals/term"
)

func PrintJobSubmitted(w io.Writer, summary *schemas.JobSummary) {
	fmt.Fprintf(w, "job: %s\n", summary.JobID)
	fmt.Fprintf(w, "seed: %d\n", summary.Seed)
	fmt.Fprintf(w, "size: %dx%d  steps: %d  cfg: %g  sampler: %s/%s\n",
		summary.Width, summary.Height, summary.Steps, summary.CFG, summary.Sampler, summary.Scheduler)
}

func PrintPath(w io.Writer, path string) {
	fmt.Fprintln(w, term.FileLink(path))
}

func PrintHistory(w io.Writer, jobs []history.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tJOB\tSTATUS\tOUTPUT")
	for _, job := range jobs {
		output := strings.Join(job.Paths, ", ")
		if job.Status == history.StatusFailed {
			output = job.Error
		}
		jobID := job.JobID
		if jobID == "" {
			jobID = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"), jobID, job.Status, output)
	}
	_ = tw.Flush()
}

func PrintCheckpoints(w io.Writer, response *schemas.CheckpointsResponse) {
	if response.Error != "" {
		fmt.Fprintf(w, "warning: %s\n", response.Error)
	}
	for _, name := range response.Checkpoints {
		fmt.Fprintln(w, name)
	}
}

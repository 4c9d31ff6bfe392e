package main

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"shelfscan/internal/jobstore"
)

// renderJobsTable lays out jobs for the list command: identity and state on
// the left, the submission counters right-aligned.
func renderJobsTable(jobs []*jobstore.Job) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Type", "Status", "Created", "Existing", "Errors", "Updated"})

	for _, job := range jobs {
		tw.AppendRow(table.Row{
			job.ID,
			string(job.Type),
			string(job.Status),
			strconv.Itoa(job.Created),
			strconv.Itoa(job.Existing),
			strconv.Itoa(job.Errors),
			job.UpdatedAt.Local().Format(time.RFC3339),
		})
	}

	counterColumns := []int{4, 5, 6}
	configs := make([]table.ColumnConfig, 0, len(counterColumns))
	for _, number := range counterColumns {
		configs = append(configs, table.ColumnConfig{
			Number:      number,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

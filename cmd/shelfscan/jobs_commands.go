package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shelfscan/internal/jobstore"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs in the remote store",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsAddCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.storeClient()
			if err != nil {
				return err
			}
			status := jobstore.Status(strings.TrimSpace(statusFlag))
			jobs, err := client.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(jobs))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (pending, in_progress, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to list")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job including its cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.storeClient()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", job.ID)
			fmt.Fprintf(out, "Type:     %s\n", job.Type)
			fmt.Fprintf(out, "Status:   %s\n", job.Status)
			if job.WorkerID != "" {
				fmt.Fprintf(out, "Worker:   %s\n", job.WorkerID)
			}
			if job.LeaseExpiresAt != nil {
				fmt.Fprintf(out, "Lease:    expires %s\n", job.LeaseExpiresAt.Local().Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Counters: created=%d existing=%d errors=%d\n", job.Created, job.Existing, job.Errors)
			if job.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", job.Error)
			}
			if len(job.Cursor) > 0 {
				fmt.Fprintf(out, "Cursor:   %s\n", formatCursor(job.Cursor))
			}
			fmt.Fprintf(out, "Updated:  %s\n", job.UpdatedAt.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Reset a failed job to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.storeClient()
			if err != nil {
				return err
			}
			if err := client.RetryJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued for retry\n", args[0])
			return nil
		},
	}
}

func newJobsAddCommand(ctx *commandContext) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue new jobs",
	}

	addCmd.AddCommand(&cobra.Command{
		Use:   "discover <source-url>",
		Short: "Enqueue product discovery for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, ctx, jobstore.TypeDiscoverProducts, jobstore.DiscoverCursor{SourceURL: args[0]})
		},
	})
	addCmd.AddCommand(&cobra.Command{
		Use:   "crawl <product-url>",
		Short: "Enqueue a single product crawl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, ctx, jobstore.TypeCrawlProduct, jobstore.CrawlCursor{ProductURL: args[0]})
		},
	})
	addCmd.AddCommand(&cobra.Command{
		Use:   "video <video-url>",
		Short: "Enqueue video processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, ctx, jobstore.TypeProcessVideo, jobstore.VideoCursor{VideoURL: args[0]})
		},
	})
	addCmd.AddCommand(&cobra.Command{
		Use:   "ingredients <name>...",
		Short: "Enqueue batch ingredient matching",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, ctx, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{Names: args})
		},
	})

	return addCmd
}

func enqueue(cmd *cobra.Command, ctx *commandContext, jobType jobstore.Type, cursor any) error {
	client, err := ctx.storeClient()
	if err != nil {
		return err
	}
	job, err := client.CreateJob(cmd.Context(), jobType, cursor)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s job %s\n", jobType, job.ID)
	return nil
}

func formatCursor(raw json.RawMessage) string {
	var compact map[string]any
	if err := json.Unmarshal(raw, &compact); err != nil {
		return string(raw)
	}
	encoded, err := json.Marshal(compact)
	if err != nil {
		return string(raw)
	}
	return string(encoded)
}

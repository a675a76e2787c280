package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshplane/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve detailed status information for a job, including its current state (pending, running, completed, failed), the node it runs on, its cost and its execution attempts.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		c := newClient()

		job, err := c.GetJob(cmd.Context(), jobID)
		if err != nil {
			printAPIError(cmd, "Status", err)
			return
		}

		// Attempt counts are a nicety; the job itself is enough to print.
		metrics, _ := c.JobMetrics(cmd.Context(), jobID)

		printStatus(cmd, job, metrics)
	},
}

func printStatus(cmd *cobra.Command, job *api.JobResponse, metrics *api.JobMetricsResponse) {
	rows := [][2]string{
		{"ID", job.JobID},
		{"Status", colorizeStatus(job.Status)},
		{"Type", job.JobType},
		{"Model", job.Model},
		{"Dataset", orNA(job.Dataset)},
		{"Speed", job.Speed},
		{"Node", orNA(job.AssignedNode)},
	}

	budget := "N/A"
	if job.Budget != nil {
		budget = money(*job.Budget)
	}
	rows = append(rows,
		[2]string{"Budget", budget},
		[2]string{"Cost", money(job.Cost)},
	)

	if metrics != nil {
		rows = append(rows, [2]string{"Attempts", fmt.Sprintf("%d (%d failed)", metrics.Tasks.Total, metrics.Tasks.Failed)})
	}

	if job.ErrorMessage != nil {
		rows = append(rows, [2]string{"Error", errorStyle.Render(*job.ErrorMessage)})
	}

	rows = append(rows,
		[2]string{"Created", formatTimeWithRelative(&job.CreatedAt)},
		[2]string{"Started", formatTimeWithRelative(job.StartedAt)},
	)

	// Duration if both times available
	if job.StartedAt != nil && job.CompletedAt != nil {
		duration := job.CompletedAt.Sub(*job.StartedAt)
		rows = append(rows, [2]string{"Finished", formatTimeWithRelative(job.CompletedAt) + " " + cyanStyle.Render("("+formatDuration(duration)+")")})
	} else {
		rows = append(rows, [2]string{"Finished", formatTimeWithRelative(job.CompletedAt)})
	}

	cmd.Println(panel(statusIcon(job.Status)+" Job Details", rows))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

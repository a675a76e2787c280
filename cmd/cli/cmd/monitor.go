package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"meshplane/pkg/api"
	"meshplane/pkg/client"
)

var pollInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor [job_id]",
	Short: "Follow a job until it completes or fails",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		monitorJob(cmd, newClient(), args[0])
	},
}

// monitorJob polls the job and prints each status change until the job is
// terminal, the command is interrupted or a poll fails.
func monitorJob(cmd *cobra.Command, c *client.Client, jobID string) {
	ctx := cmd.Context()
	lastStatus := ""

	for {
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				cmd.Println(warningStyle.Render("Monitoring stopped"))
				return
			}
			printAPIError(cmd, "Monitor", err)
			return
		}

		if job.Status != lastStatus {
			cmd.Printf("%s Job %s: %s\n", time.Now().Format("15:04:05"), job.JobID, colorizeStatus(job.Status))
			lastStatus = job.Status
		}

		switch job.Status {
		case "completed":
			cmd.Println(panel(statusIcon(job.Status)+" Job Complete", [][2]string{
				{"Job ID", job.JobID},
				{"Status", colorizeStatus(job.Status)},
				{"Cost", money(job.Cost)},
				{"Node", orNA(job.AssignedNode)},
			}))
			return
		case "failed":
			cmd.Println(panel(statusIcon(job.Status)+" Job Failed", [][2]string{
				{"Job ID", job.JobID},
				{"Error", errorStyle.Render(jobError(job))},
			}))
			return
		}

		if err := sleep(ctx, pollInterval); err != nil {
			cmd.Println(warningStyle.Render("Monitoring stopped"))
			return
		}
	}
}

func jobError(job *api.JobResponse) string {
	if job.ErrorMessage == nil || *job.ErrorMessage == "" {
		return "Unknown error"
	}
	return *job.ErrorMessage
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func init() {
	monitorCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Second, "Polling interval")
	rootCmd.AddCommand(monitorCmd)
}

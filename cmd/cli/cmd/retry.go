package cmd

import (
	"github.com/spf13/cobra"
)

var retryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Retry a failed job",
	Long:  `Send a failed job back through node selection. Only failed jobs can be retried; its cost and error are cleared and a new execution attempt is recorded.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]

		resp, err := newClient().RetryJob(cmd.Context(), jobID)
		if err != nil {
			printAPIError(cmd, "Retry", err)
			return
		}

		cmd.Printf("%s Job %s retried\n", successStyle.Render("✓"), resp.JobID)
		cmd.Printf("   Status: %s\n", colorizeStatus(resp.Status))
	},
}

func init() {
	rootCmd.AddCommand(retryCmd)
}

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"meshplane/pkg/api"
)

var finetuneCmd = &cobra.Command{
	Use:   "finetune",
	Short: "Submit a fine-tuning job",
	Long: `Submit a fine-tuning job. The controller picks a node for it right away
according to the speed preference, and meshctl follows the job until it
completes or fails unless --wait=false is given.

Speed preferences:
  fast       the node with the highest compute score
  balanced   compute score weighted by reputation (default)
  cheap      the node with the lowest reputation

Example:
  meshctl finetune --model llama-3-8b
  meshctl finetune --model mistral-7b --dataset alpaca --max-budget 2.5 --speed cheap`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		model, _ := flags.GetString("model")
		dataset, _ := flags.GetString("dataset")
		speed, _ := flags.GetString("speed")
		wait, _ := flags.GetBool("wait")

		if model == "" {
			cmd.Println("Error: --model is required")
			return
		}

		switch speed {
		case "fast", "balanced", "cheap":
		default:
			cmd.Printf("Error: --speed must be fast, balanced or cheap, got %q\n", speed)
			return
		}

		req := api.CreateJobRequest{
			Model: model,
			Speed: speed,
		}
		if dataset != "" {
			req.Dataset = &dataset
		}
		if flags.Changed("max-budget") {
			budget, _ := flags.GetFloat64("max-budget")
			if budget < 0 {
				cmd.Println("Error: --max-budget must be >= 0")
				return
			}
			req.Budget = &budget
		}

		c := newClient()
		cmd.Println(cyanStyle.Render("Creating finetuning job..."))

		job, err := c.Finetune(cmd.Context(), req)
		if err != nil {
			printAPIError(cmd, "Submit", err)
			return
		}

		budget := "N/A"
		if job.Budget != nil {
			budget = money(*job.Budget)
		}
		cmd.Println(panel(successStyle.Render("✓ Job created"), [][2]string{
			{"Job ID", job.JobID},
			{"Model", job.Model},
			{"Status", colorizeStatus(job.Status)},
			{"Speed", job.Speed},
			{"Budget", budget},
			{"Node", orNA(job.AssignedNode)},
		}))

		if !wait {
			return
		}
		cmd.Println(cyanStyle.Render("Monitoring job progress..."))
		monitorJob(cmd, c, job.JobID)
	},
}

func init() {
	flags := finetuneCmd.Flags()
	flags.StringP("model", "m", "", "Model to fine-tune, e.g. llama-3-8b (required)")
	flags.StringP("dataset", "d", "", "Dataset path or name")
	flags.Float64("max-budget", 0, "Maximum budget in USD")
	flags.StringP("speed", "s", "balanced", "Speed preference: fast, balanced or cheap")
	flags.Bool("wait", true, "Follow the job until it completes or fails")
	flags.DurationVar(&pollInterval, "interval", 2*time.Second, "Polling interval while waiting")

	rootCmd.AddCommand(finetuneCmd)
}

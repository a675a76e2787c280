package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show mesh-wide statistics",
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := newClient().Stats(cmd.Context())
		if err != nil {
			printAPIError(cmd, "Stats", err)
			return
		}

		cmd.Println(titleStyle.Render("System Statistics"))
		cmd.Println(table([]string{"METRIC", "VALUE"}, [][]string{
			{"Total Nodes", fmt.Sprint(stats.Nodes.Total)},
			{"Avg Reputation", fmt.Sprintf("%.2f", stats.Nodes.AverageReputation)},
			{"Avg Compute Score", fmt.Sprintf("%.2f", stats.Nodes.AverageComputeScore)},
			{"Total Jobs", fmt.Sprint(stats.Jobs.Total)},
			{"Pending Jobs", fmt.Sprint(stats.Jobs.Pending)},
			{"Running Jobs", fmt.Sprint(stats.Jobs.Running)},
			{"Completed Jobs", fmt.Sprint(stats.Jobs.Completed)},
			{"Failed Jobs", fmt.Sprint(stats.Jobs.Failed)},
			{"Total Revenue", money(stats.Revenue.Total)},
		}))
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check mesh health",
	Run: func(cmd *cobra.Command, args []string) {
		health, err := newClient().Health(cmd.Context())
		if err != nil {
			printAPIError(cmd, "Health", err)
			return
		}

		issues := "None"
		if len(health.Issues) > 0 {
			issues = strings.Join(health.Issues, ", ")
		}

		cmd.Println(panel("System Health", [][2]string{
			{"Status", colorizeStatus(health.Status)},
			{"Active Nodes", fmt.Sprint(health.ActiveNodes)},
			{"Issues", issues},
		}))
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

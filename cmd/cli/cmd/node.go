package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meshplane/pkg/api"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage mesh nodes",
	Long:  `Register nodes, list the node directory and inspect a node's earnings and reputation.`,
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a node, or refresh an existing registration",
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		nodeID, _ := flags.GetString("node-id")
		host, _ := flags.GetString("host")
		port, _ := flags.GetInt("port")
		gpuMemory, _ := flags.GetInt("gpu-memory")
		computeScore, _ := flags.GetFloat64("compute-score")

		if nodeID == "" {
			cmd.Println("Error: --node-id is required")
			return
		}

		node, err := newClient().RegisterNode(cmd.Context(), api.RegisterNodeRequest{
			NodeID:       nodeID,
			Host:         host,
			Port:         port,
			GPUMemory:    gpuMemory,
			ComputeScore: computeScore,
		})
		if err != nil {
			printAPIError(cmd, "Register", err)
			return
		}

		cmd.Println(panel(successStyle.Render("✓ Node registered"), [][2]string{
			{"Node ID", node.NodeID},
			{"Status", colorizeStatus(node.Status)},
			{"Reputation", fmt.Sprintf("%.2f", node.Reputation)},
		}))
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	Run: func(cmd *cobra.Command, args []string) {
		live, _ := cmd.Flags().GetBool("live")

		resp, err := newClient().ListNodes(cmd.Context(), live)
		if err != nil {
			printAPIError(cmd, "List", err)
			return
		}

		if len(resp.Nodes) == 0 {
			if live {
				cmd.Println(warningStyle.Render("No live nodes found"))
			} else {
				cmd.Println(warningStyle.Render("No nodes found"))
			}
			return
		}

		rows := make([][]string, 0, len(resp.Nodes))
		for _, n := range resp.Nodes {
			rows = append(rows, []string{
				n.NodeID,
				fmt.Sprintf("%s:%d", n.Host, n.Port),
				fmt.Sprintf("%d GB", n.GPUMemory),
				fmt.Sprintf("%.2f", n.ComputeScore),
				fmt.Sprintf("%.2f", n.Reputation),
				colorizeStatus(n.Status),
				relativeTime(n.LastHeartbeat) + " ago",
			})
		}
		cmd.Println(table([]string{"NODE ID", "HOST:PORT", "GPU MEMORY", "COMPUTE", "REPUTATION", "STATUS", "HEARTBEAT"}, rows))
	},
}

var nodeHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat [node_id]",
	Short: "Send a heartbeat for a node",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := newClient().Heartbeat(cmd.Context(), args[0])
		if err != nil {
			printAPIError(cmd, "Heartbeat", err)
			return
		}
		cmd.Printf("%s Heartbeat recorded for %s (%s)\n", successStyle.Render("✓"), resp.NodeID, resp.Status)
	},
}

var nodeMetricsCmd = &cobra.Command{
	Use:   "metrics [node_id]",
	Short: "Show a node's jobs and earnings",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		m, err := newClient().NodeMetrics(cmd.Context(), args[0])
		if err != nil {
			printAPIError(cmd, "Metrics", err)
			return
		}

		cmd.Println(panel("Node "+m.NodeID, [][2]string{
			{"Status", colorizeStatus(m.Status)},
			{"GPU Memory", fmt.Sprintf("%d GB", m.GPUMemory)},
			{"Compute Score", fmt.Sprintf("%.2f", m.ComputeScore)},
			{"Reputation", fmt.Sprintf("%.2f", m.Reputation)},
			{"Last Heartbeat", formatTimeWithRelative(&m.LastHeartbeat)},
			{"Jobs", fmt.Sprintf("%d total, %d running, %d completed, %d failed", m.Jobs.Total, m.Jobs.Running, m.Jobs.Completed, m.Jobs.Failed)},
			{"Earnings", money(m.Earnings)},
		}))
	},
}

var nodeReputationCmd = &cobra.Command{
	Use:   "reputation [node_id]",
	Short: "Show a node's reputation history",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		resp, err := newClient().ReputationHistory(cmd.Context(), args[0], limit)
		if err != nil {
			printAPIError(cmd, "Reputation", err)
			return
		}

		cmd.Printf("%s %s\n", titleStyle.Render("Reputation of "+resp.NodeID+":"), fmt.Sprintf("%.2f", resp.Reputation))
		if len(resp.History) == 0 {
			cmd.Println(labelStyle.Render("No reputation changes yet"))
			return
		}

		rows := make([][]string, 0, len(resp.History))
		for _, e := range resp.History {
			change := fmt.Sprintf("%+.2f", e.Change)
			if e.Change < 0 {
				change = errorStyle.Render(change)
			} else {
				change = successStyle.Render(change)
			}
			rows = append(rows, []string{
				e.CreatedAt.Local().Format(time.RFC3339),
				change,
				e.Reason,
				orNA(e.JobID),
			})
		}
		cmd.Println(table([]string{"WHEN", "CHANGE", "REASON", "JOB"}, rows))
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeRegisterCmd, nodeListCmd, nodeHeartbeatCmd, nodeMetricsCmd, nodeReputationCmd)

	flags := nodeRegisterCmd.Flags()
	flags.String("node-id", "", "Node ID (required)")
	flags.String("host", "localhost", "Node host")
	flags.Int("port", 8080, "Node port")
	flags.Int("gpu-memory", 24, "GPU memory in GB")
	flags.Float64("compute-score", 8.5, "Compute score")

	nodeListCmd.Flags().Bool("live", false, "Only nodes with a recent heartbeat")
	nodeReputationCmd.Flags().IntP("limit", "l", 0, "Number of history entries (default: server default)")
}

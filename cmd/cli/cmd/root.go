package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"meshplane/pkg/client"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshctl",
	Short: "Meshctl is a command line tool for interacting with a meshplane controller",
	Long: `meshctl is the command-line interface for the meshplane compute mesh.

Meshplane pairs fine-tuning jobs with GPU nodes contributed to the mesh. The
controller keeps the node directory, picks a node for every job according to
its speed preference and settles the cost when the job finishes. Nodes earn
reputation for the jobs they complete.

Common workflows:

  Register a node:
    meshctl node register --node-id gpu-01 --gpu-memory 24 --compute-score 8.5

  Submit a fine-tuning job and follow it to the end:
    meshctl finetune --model llama-3-8b --speed fast --max-budget 5

  Check on a job later:
    meshctl status <job-id>
    meshctl monitor <job-id>

  Retry a failed job:
    meshctl retry <job-id>

  Mesh overview:
    meshctl stats
    meshctl health

Configuration:
  Set the controller endpoint and caller identity via flags, environment
  variables or $HOME/.meshctl.yaml:
    MESHPLANE_URL     Controller URL (default: http://localhost:6161)
    MESHPLANE_USER    User ID sent with every request (default: cli_user)`,
}

// Execute runs the root command. Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func newClient() *client.Client {
	return client.New(viper.GetString("url"), viper.GetString("user"))
}

// printAPIError reports a failed call the same way for every command.
func printAPIError(cmd *cobra.Command, action string, err error) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		cmd.Printf("%s failed (%d): %s\n", action, apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("%s failed: %v\n", action, err)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".meshctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".meshctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "MESHPLANE_VARNAME"
	viper.SetEnvPrefix("MESHPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.meshctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Meshplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("user", "u", "cli_user", "User ID sent as X-User-ID")
	viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var stopKill bool

var stopCmd = &cobra.Command{
	Use:   "stop [campaign_id]",
	Short: "Stop the active campaign",
	Long: `Stop the active campaign. By default workers finish their current
test case first; with --kill they are terminated immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().StopCampaign(args[0], stopKill); err != nil {
			return err
		}
		cmd.Printf("Campaign %s is stopping\n", args[0])
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort [campaign_id] [pid]",
	Short: "Kill one worker process of the active campaign",
	Long: `Kill a single worker process without stopping the campaign. The
scheduler records the worker's unfinished tests and moves on. Worker
PIDs come from 'gtctl status'.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid pid %q", args[1])
		}
		if err := apiClient().AbortJob(args[0], pid); err != nil {
			return err
		}
		cmd.Printf("Aborting worker %d\n", pid)
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopKill, "kill", false, "terminate workers instead of letting them finish the current test")

	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(abortCmd)
}

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [campaign_id]",
	Short: "List a campaign's worker processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := apiClient().CampaignJobs(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PID\tPROGRESS\tCURRENT\tCPU\tRSS\tKIND")
		for _, j := range page.Jobs {
			current := j.Current
			if current == "" {
				current = "-"
			}
			kind := "shard"
			if j.Background {
				kind = "full-set"
			}
			fmt.Fprintf(w, "%d\t%d/%d\t%s\t%.1f%%\t%s\t%s\n",
				j.PID, j.Seen, j.Expected, current, j.CPUPercent, formatBytes(j.RSSBytes), kind)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(page.Jobs) == 0 {
			cmd.Println("no running workers")
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [campaign_id]",
	Short: "Show a campaign's verdict counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().CampaignStats(args[0])
		if err != nil {
			return err
		}

		cmd.Printf("%sPass:%s           %s%d%s\n", colorDim, colorReset, colorGreen, stats.Pass, colorReset)
		cmd.Printf("%sFail:%s           %s%d%s\n", colorDim, colorReset, colorRed, stats.Fail, colorReset)
		cmd.Printf("%sSkip:%s           %s%d%s\n", colorDim, colorReset, colorYellow, stats.Skip, colorReset)
		cmd.Printf("%sChecker errors:%s %d\n", colorDim, colorReset, stats.CheckerErr)
		cmd.Printf("%sRunning:%s        %d\n", colorDim, colorReset, stats.Running)
		cmd.Printf("%sCompleted:%s      %d/%d\n", colorDim, colorReset, stats.Completed, stats.Expected)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(statsCmd)
}

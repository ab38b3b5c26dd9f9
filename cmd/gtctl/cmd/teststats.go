package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var testsFlags struct {
	campaign string
	pattern  string
}

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "Show per-test pass/fail totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := apiClient().TestStats(testsFlags.campaign, testsFlags.pattern)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TEST\tPASS\tFAIL\tSKIP\tTOTAL TIME\tREPEAT")
		for _, s := range stats {
			repeat := ""
			if s.RepeatRequested {
				repeat = "requested"
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d ms\t%s\n",
				s.TestName, s.Pass, s.Fail, s.Skip, s.DurationMS, repeat)
		}
		return w.Flush()
	},
}

var repeatClear bool

var repeatCmd = &cobra.Command{
	Use:   "repeat [test_name]",
	Short: "Mark a test for repetition in the next campaign",
	Long: `Mark a test so the next campaign schedules it even when --resume
would skip it. Use --clear to remove the mark.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := apiClient()
		if repeatClear {
			ack, err := client.UnmarkRepeat(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Cleared repeat mark on %s\n", ack.TestName)
			return nil
		}
		ack, err := client.MarkRepeat(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Marked %s for repetition\n", ack.TestName)
		return nil
	},
}

func init() {
	testsCmd.Flags().StringVar(&testsFlags.campaign, "campaign", "", "only results from this campaign")
	testsCmd.Flags().StringVar(&testsFlags.pattern, "pattern", "", "test name GLOB pattern")

	repeatCmd.Flags().BoolVar(&repeatClear, "clear", false, "remove the repeat mark")

	rootCmd.AddCommand(testsCmd)
	rootCmd.AddCommand(repeatCmd)
}

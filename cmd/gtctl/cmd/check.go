package cmd

import (
	"github.com/spf13/cobra"
)

var checkRunDisabled bool

var checkCmd = &cobra.Command{
	Use:   "check [filter]",
	Short: "Validate a filter expression against the test list",
	Long: `Check a GoogleTest filter expression against the registered
executable's test list and report patterns that match nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient().CheckFilter(args[0], checkRunDisabled)
		if err != nil {
			return err
		}
		if res.Warning == "" {
			cmd.Printf("%s✓%s filter matches\n", colorGreen, colorReset)
			return nil
		}
		cmd.Printf("%s✗%s %s\n", colorYellow, colorReset, res.Warning)
		if res.Pattern != "" {
			cmd.Printf("  offending pattern: %s\n", res.Pattern)
		}
		return nil
	},
}

var retentionFlags struct {
	keepTraces string
	keepCores  bool
}

var retentionCmd = &cobra.Command{
	Use:   "retention [campaign_id]",
	Short: "Change trace retention of the active campaign",
	Long: `Change what the active campaign retains from here on. Flags that are
not set keep their current value:

  gtctl retention 01JF... --keep-traces all
  gtctl retention 01JF... --keep-cores=false`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var keepCores *bool
		if cmd.Flags().Changed("keep-cores") {
			keepCores = &retentionFlags.keepCores
		}
		ack, err := apiClient().UpdateRetention(args[0], retentionFlags.keepTraces, keepCores)
		if err != nil {
			return err
		}
		cmd.Printf("Retention: traces=%s cores=%t\n", ack.KeepTraces, ack.KeepCores)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream server events",
	Long: `Attach to the global event stream and print raw events as they
arrive. Useful for watching executable changes from rebuilds.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return apiClient().StreamEvents("", func(event, data string) bool {
			cmd.Printf("%s%-12s%s %s\n", colorBold, event, colorReset, data)
			return true
		})
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkRunDisabled, "run-disabled", false, "treat DISABLED_ tests as runnable")

	retentionCmd.Flags().StringVar(&retentionFlags.keepTraces, "keep-traces", "", "trace retention: all or failed")
	retentionCmd.Flags().BoolVar(&retentionFlags.keepCores, "keep-cores", false, "retain core dumps")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(eventsCmd)
}

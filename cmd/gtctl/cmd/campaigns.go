package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var campaignsFlags struct {
	limit  int
	offset int
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List campaigns, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := apiClient().Campaigns(campaignsFlags.limit, campaignsFlags.offset)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tFILTER\tJOBS\tEXPECTED\tCREATED")
		for _, c := range page.Campaigns {
			filter := c.Filter
			if filter == "" {
				filter = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				c.ID, c.Status, filter, c.Jobs, c.Expected, relativeTime(c.CreatedAt)+" ago")
		}
		if err := w.Flush(); err != nil {
			return err
		}
		cmd.Printf("\n%d of %d campaigns\n", len(page.Campaigns), page.Total)
		return nil
	},
}

func init() {
	campaignsCmd.Flags().IntVar(&campaignsFlags.limit, "limit", 20, "page size")
	campaignsCmd.Flags().IntVar(&campaignsFlags.offset, "offset", 0, "page offset")

	rootCmd.AddCommand(campaignsCmd)
}

package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var resultsFlags struct {
	campaign string
	test     string
	verdict  []string
	failed   bool
	valgrind bool
	origin   string
	since    string
	sort     string
	order    string
	limit    int
	offset   int
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List stored test results",
	Long: `List test results. Filters combine; --test accepts * and ? wildcards
(exact names match themselves):

  gtctl results --failed --since 2026-01-01T00:00:00Z
  gtctl results --test 'Calc.*' --verdict fail,crash`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if resultsFlags.campaign != "" {
			q.Set("campaign", resultsFlags.campaign)
		}
		if resultsFlags.test != "" {
			q.Set("test", resultsFlags.test)
		}
		for _, v := range resultsFlags.verdict {
			q.Add("verdict", v)
		}
		if resultsFlags.failed {
			q.Set("failed", "true")
		}
		if cmd.Flags().Changed("valgrind") {
			q.Set("valgrind", strconv.FormatBool(resultsFlags.valgrind))
		}
		if resultsFlags.origin != "" {
			q.Set("origin", resultsFlags.origin)
		}
		if resultsFlags.since != "" {
			q.Set("since", resultsFlags.since)
		}
		if resultsFlags.sort != "" {
			q.Set("sort", resultsFlags.sort)
		}
		if resultsFlags.order != "" {
			q.Set("order", resultsFlags.order)
		}
		q.Set("limit", strconv.Itoa(resultsFlags.limit))
		q.Set("offset", strconv.Itoa(resultsFlags.offset))

		page, err := apiClient().Results(q)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERDICT\tTEST\tDURATION\tLOCATION\tENDED")
		for _, r := range page.Results {
			location := "-"
			if r.FailFile != "" {
				location = fmt.Sprintf("%s:%d", r.FailFile, r.FailLine)
			}
			name := r.TestName
			if name == "" {
				name = "(checker summary)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%d ms\t%s\t%s\n",
				r.ID, r.Verdict, name, r.DurationMS, location, relativeTime(r.EndedAt)+" ago")
		}
		if err := w.Flush(); err != nil {
			return err
		}
		cmd.Printf("\n%d of %d results\n", len(page.Results), page.Total)
		return nil
	},
}

var resultsRmFiles bool

var resultsRmCmd = &cobra.Command{
	Use:   "rm [id...]",
	Short: "Delete stored results by ID",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, a := range args {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid result id %q", a)
			}
			ids = append(ids, id)
		}
		n, err := apiClient().DeleteResults(ids, resultsRmFiles)
		if err != nil {
			return err
		}
		cmd.Printf("Deleted %d results\n", n)
		return nil
	},
}

var traceCmd = &cobra.Command{
	Use:   "trace [result_id]",
	Short: "Print the captured output of one result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid result id %q", args[0])
		}
		text, err := apiClient().Trace(id)
		if err != nil {
			return err
		}
		cmd.Print(text)
		return nil
	},
}

func init() {
	resultsCmd.Flags().StringVar(&resultsFlags.campaign, "campaign", "", "only results from this campaign")
	resultsCmd.Flags().StringVar(&resultsFlags.test, "test", "", "test name pattern (* and ? wildcards)")
	resultsCmd.Flags().StringSliceVar(&resultsFlags.verdict, "verdict", nil, "only these verdicts (pass,fail,skip,crash,checker,error)")
	resultsCmd.Flags().BoolVar(&resultsFlags.failed, "failed", false, "only failing verdicts (fail, crash, checker, error)")
	resultsCmd.Flags().BoolVar(&resultsFlags.valgrind, "valgrind", false, "only results from valgrind runs")
	resultsCmd.Flags().StringVar(&resultsFlags.origin, "origin", "", "result origin: live, auto or file")
	resultsCmd.Flags().StringVar(&resultsFlags.since, "since", "", "only results after this RFC 3339 time")
	resultsCmd.Flags().StringVar(&resultsFlags.sort, "sort", "", "sort key (id, test, verdict, duration, ended)")
	resultsCmd.Flags().StringVar(&resultsFlags.order, "order", "", "sort order: asc or desc")
	resultsCmd.Flags().IntVar(&resultsFlags.limit, "limit", 20, "page size")
	resultsCmd.Flags().IntVar(&resultsFlags.offset, "offset", 0, "page offset")

	resultsRmCmd.Flags().BoolVar(&resultsRmFiles, "files", false, "also delete trace files that no remaining result references")
	resultsCmd.AddCommand(resultsRmCmd)

	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(traceCmd)
}

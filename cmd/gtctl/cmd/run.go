package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seantiz/gtrunner/internal/model"
)

var runFlags struct {
	filter        string
	jobs          int
	fullSetJobs   int
	repeat        int
	maxFail       int
	resume        bool
	mode          string
	runDisabled   bool
	shuffle       bool
	breakOnFail   bool
	breakOnExcept bool
	keepTraces    string
	keepCores     bool
	noCopy        bool
	follow        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a test campaign",
	Long: `Start a campaign on the registered test executable. The filter uses
GoogleTest syntax (positive patterns, then '-', then negative patterns):

  gtctl run --filter 'Calc.*:Net.*-Net.Slow*' --jobs 8

With --follow the command stays attached and prints each verdict as it
arrives, exiting when the campaign finishes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := startRequest{
			Filter:      runFlags.filter,
			Jobs:        runFlags.jobs,
			FullSetJobs: runFlags.fullSetJobs,
			Repeat:      runFlags.repeat,
			MaxFail:     runFlags.maxFail,
			Resume:      runFlags.resume,
			Options: startOptions{
				RunMode:        runFlags.mode,
				RunDisabled:    runFlags.runDisabled,
				Shuffle:        runFlags.shuffle,
				BreakOnFailure: runFlags.breakOnFail,
				BreakOnExcept:  runFlags.breakOnExcept,
				KeepTraces:     runFlags.keepTraces,
				KeepCores:      runFlags.keepCores,
			},
		}
		if runFlags.noCopy {
			f := false
			req.Options.CopyExecutable = &f
		}

		client := apiClient()
		camp, err := client.StartCampaign(req)
		if err != nil {
			return err
		}
		cmd.Printf("Campaign %s started: %d tests, %d jobs\n", camp.ID, camp.Expected, camp.Jobs)

		if !runFlags.follow {
			return nil
		}
		return followCampaign(cmd, client, camp.ID)
	},
}

// followCampaign prints verdicts from the event stream until the
// campaign's done event arrives.
func followCampaign(cmd *cobra.Command, client *Client, id string) error {
	var final *model.CampaignStats
	err := client.StreamEvents(id, func(event, data string) bool {
		switch event {
		case "result":
			var r model.TestResult
			if json.Unmarshal([]byte(data), &r) != nil || r.TestName == "" {
				return true
			}
			cmd.Printf("%s %s %s(%d ms)%s\n", verdictTag(r.Verdict), r.TestName, colorDim, r.DurationMS, colorReset)
		case "done":
			var s model.CampaignStats
			if json.Unmarshal([]byte(data), &s) == nil {
				final = &s
			}
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	if final != nil {
		cmd.Printf("\n%sdone:%s %d passed, %d failed, %d skipped\n",
			colorBold, colorReset, final.Pass, final.Fail, final.Skip)
		if final.Fail > 0 {
			return fmt.Errorf("%d tests failed", final.Fail)
		}
	}
	return nil
}

func verdictTag(verdict string) string {
	switch verdict {
	case model.VerdictPass:
		return colorGreen + "PASS " + colorReset
	case model.VerdictSkip:
		return colorYellow + "SKIP " + colorReset
	case model.VerdictFail:
		return colorRed + "FAIL " + colorReset
	case model.VerdictCrash:
		return colorRed + "CRASH" + colorReset
	case model.VerdictChecker:
		return colorRed + "CHECK" + colorReset
	default:
		return colorRed + "ERROR" + colorReset
	}
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.filter, "filter", "f", "", "GoogleTest filter expression")
	runCmd.Flags().IntVarP(&runFlags.jobs, "jobs", "j", 0, "number of worker processes (0 = server default)")
	runCmd.Flags().IntVar(&runFlags.fullSetJobs, "full-set-jobs", 0, "background workers running the full suite per process")
	runCmd.Flags().IntVarP(&runFlags.repeat, "repeat", "r", 0, "repeat count per test (-1 = until stopped)")
	runCmd.Flags().IntVar(&runFlags.maxFail, "max-fail", 0, "stop the campaign after this many failures")
	runCmd.Flags().BoolVar(&runFlags.resume, "resume", false, "skip tests that already passed against this executable")
	runCmd.Flags().StringVarP(&runFlags.mode, "mode", "m", "", "run mode (see 'gtctl launchers')")
	runCmd.Flags().BoolVar(&runFlags.runDisabled, "run-disabled", false, "include DISABLED_ tests")
	runCmd.Flags().BoolVar(&runFlags.shuffle, "shuffle", false, "shuffle test order within each worker")
	runCmd.Flags().BoolVar(&runFlags.breakOnFail, "break-on-failure", false, "workers trap on the first failure")
	runCmd.Flags().BoolVar(&runFlags.breakOnExcept, "break-on-except", false, "workers trap on uncaught exceptions")
	runCmd.Flags().StringVar(&runFlags.keepTraces, "keep-traces", "", "trace retention: all or failed")
	runCmd.Flags().BoolVar(&runFlags.keepCores, "keep-cores", false, "retain core dumps from crashed workers")
	runCmd.Flags().BoolVar(&runFlags.noCopy, "no-copy", false, "run the executable in place instead of a snapshot copy")
	runCmd.Flags().BoolVar(&runFlags.follow, "follow", false, "stay attached and stream verdicts")

	rootCmd.AddCommand(runCmd)
}

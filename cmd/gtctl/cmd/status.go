package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/gtrunner/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [campaign_id]",
	Short: "Show a campaign's progress",
	Long: `Show one campaign's status, verdict counters and worker processes.
Without an argument the most recent campaign is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := apiClient()

		var id string
		if len(args) == 1 {
			id = args[0]
		} else {
			page, err := client.Campaigns(1, 0)
			if err != nil {
				return err
			}
			if len(page.Campaigns) == 0 {
				return fmt.Errorf("no campaigns on the server")
			}
			id = page.Campaigns[0].ID
		}

		camp, err := client.Campaign(id)
		if err != nil {
			return err
		}
		stats, err := client.CampaignStats(id)
		if err != nil {
			return err
		}
		jobs, err := client.CampaignJobs(id)
		if err != nil {
			return err
		}

		printCampaign(cmd, camp, stats, jobs.Jobs)
		return nil
	},
}

func printCampaign(cmd *cobra.Command, camp model.Campaign, stats model.CampaignStats, jobs []model.JobStatus) {
	cmd.Printf("%s %sCampaign %s%s\n", statusIcon(camp.Status), colorBold, camp.ID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(camp.Status))
	cmd.Printf("%sExecutable:%s  %s\n", colorDim, colorReset, camp.ExePath)
	if camp.Filter != "" {
		cmd.Printf("%sFilter:%s      %s\n", colorDim, colorReset, camp.Filter)
	}
	mode := camp.Options.RunMode
	if mode == "" {
		mode = model.RunModeDirect
	}
	cmd.Printf("%sMode:%s        %s\n", colorDim, colorReset, mode)
	cmd.Printf("%sJobs:%s        %d\n", colorDim, colorReset, camp.Jobs)
	if camp.Repeat != 0 {
		cmd.Printf("%sRepeat:%s      %d\n", colorDim, colorReset, camp.Repeat)
	}
	if camp.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, camp.Error, colorReset)
	}

	progress := "-"
	if stats.Expected > 0 {
		progress = fmt.Sprintf("%d/%d (%d%%)", stats.Completed, stats.Expected, 100*stats.Completed/stats.Expected)
	}
	cmd.Printf("%sProgress:%s    %s\n", colorDim, colorReset, progress)
	cmd.Printf("%sVerdicts:%s    %s%d pass%s  %s%d fail%s  %s%d skip%s",
		colorDim, colorReset,
		colorGreen, stats.Pass, colorReset,
		colorRed, stats.Fail, colorReset,
		colorYellow, stats.Skip, colorReset)
	if stats.CheckerErr > 0 {
		cmd.Printf("  %s%d checker%s", colorRed, stats.CheckerErr, colorReset)
	}
	cmd.Println()

	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTime(camp.StartedAt))
	if camp.FinishedAt != nil && camp.StartedAt != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTime(camp.FinishedAt), colorCyan, formatDuration(camp.FinishedAt.Sub(*camp.StartedAt)), colorReset)
	}

	if len(jobs) == 0 {
		return
	}
	cmd.Printf("\n%sWorkers:%s\n", colorBold, colorReset)
	for _, j := range jobs {
		kind := ""
		if j.Background {
			kind = colorDim + " (full-set)" + colorReset
		}
		current := j.Current
		if current == "" {
			current = "-"
		}
		cmd.Printf("  pid %-7d %3d/%-3d  cpu %5.1f%%  rss %s  %s%s\n",
			j.PID, j.Seen, j.Expected, j.CPUPercent, formatBytes(j.RSSBytes), current, kind)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case model.StatusDone:
		return colorGreen + "✓" + colorReset
	case model.StatusFailed:
		return colorRed + "✗" + colorReset
	case model.StatusRunning:
		return colorYellow + "⏳" + colorReset
	case model.StatusStopping:
		return colorYellow + "◌" + colorReset
	case model.StatusPending:
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case model.StatusDone:
		return icon + " " + colorGreen + status + colorReset
	case model.StatusFailed:
		return icon + " " + colorRed + status + colorReset
	case model.StatusRunning, model.StatusStopping:
		return icon + " " + colorYellow + status + colorReset
	case model.StatusPending:
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(*t), colorReset)
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

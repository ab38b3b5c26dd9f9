package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importScan bool

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Ingest previously captured trace files",
	Long: `Re-parse trace files and store their results. Paths are resolved on
the server. With --scan the server sweeps its trace directory for files
it has no results for instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if importScan == (len(args) > 0) {
			return fmt.Errorf("provide either files or --scan")
		}

		client := apiClient()
		var (
			res importResult
			err error
		)
		if importScan {
			res, err = client.ImportScan()
		} else {
			res, err = client.ImportFiles(args)
		}
		if err != nil {
			return err
		}
		cmd.Printf("Imported %d results\n", res.Imported)
		if res.Warning != "" {
			cmd.Printf("%sWarning:%s %s\n", colorYellow, colorReset, res.Warning)
		}
		return nil
	},
}

var pruneKeepFailed bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stored trace files",
	Long: `Delete trace files and compact the ones with segments still worth
keeping. With --keep-failed (the default) segments referenced by
failures survive; --keep-failed=false wipes everything.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient().Prune(pruneKeepFailed)
		if err != nil {
			return err
		}
		cmd.Printf("Deleted %d files, compacted %d\n", res.Deleted, res.Compacted)
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&importScan, "scan", false, "scan the server's trace directory")
	pruneCmd.Flags().BoolVar(&pruneKeepFailed, "keep-failed", true, "keep trace segments referenced by failures")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(pruneCmd)
}

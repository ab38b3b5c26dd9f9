package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var exeShowTests bool

var exeCmd = &cobra.Command{
	Use:   "exe",
	Short: "Manage the test executable",
}

var exeSetCmd = &cobra.Command{
	Use:   "set [path]",
	Short: "Register a test executable",
	Long: `Register a GoogleTest executable on the server. The server runs it
with --gtest_list_tests and stores the discovered test names.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient().SetExecutable(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("Registered %s (%d tests)\n", info.Path, info.TestCount)
		return nil
	},
}

var exeShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the registered test executable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := apiClient().Executable()
		if err != nil {
			return err
		}
		cmd.Printf("%sPath:%s   %s\n", colorDim, colorReset, info.Path)
		cmd.Printf("%sStamp:%s  %s\n", colorDim, colorReset, time.Unix(info.Stamp, 0).Format(time.RFC1123))
		cmd.Printf("%sTests:%s  %d\n", colorDim, colorReset, info.TestCount)
		if exeShowTests {
			for _, name := range info.TestNames {
				cmd.Println("  " + name)
			}
		}
		return nil
	},
}

var launchersCmd = &cobra.Command{
	Use:   "launchers",
	Short: "List the run modes the server supports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		launchers, err := apiClient().Launchers()
		if err != nil {
			return err
		}
		for _, l := range launchers {
			detail := "runs the executable directly"
			if l.Valgrind {
				detail = "wraps workers in " + l.Command
			}
			cmd.Printf("%s%-16s%s %s\n", colorBold, l.Mode, colorReset, detail)
		}
		return nil
	},
}

func init() {
	exeShowCmd.Flags().BoolVar(&exeShowTests, "tests", false, "list the discovered test names")

	exeCmd.AddCommand(exeSetCmd)
	exeCmd.AddCommand(exeShowCmd)
	rootCmd.AddCommand(exeCmd)
	rootCmd.AddCommand(launchersCmd)
}

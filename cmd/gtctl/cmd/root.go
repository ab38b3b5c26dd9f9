// Package cmd implements the gtctl command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "gtctl",
	Short: "Command-line client for the gtrunner test campaign server",
	Long: `gtctl drives a gtrunner server from the terminal.

Typical workflow:

  gtctl exe set ./build/calc_test     # register the test executable
  gtctl run --filter 'Calc.*' -j 8    # start a campaign
  gtctl status                        # watch progress
  gtctl results --failed              # inspect failures
  gtctl trace 42                      # read a failure's output

The server address comes from --url, the GTRUNNER_URL environment
variable, or a config file (default $HOME/.gtctl.yaml).`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gtctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "http://localhost:8080", "gtrunner server URL")

	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".gtctl")
		}
	}

	viper.SetEnvPrefix("GTRUNNER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// apiClient builds a client from the resolved configuration.
func apiClient() *Client {
	return NewClient(viper.GetString("url"))
}

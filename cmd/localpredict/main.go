// Command localpredict evaluates downloaded models, ensembles and clusters
// against CSV or JSON rows without contacting the remote service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootCmdConfig struct {
	configPath string
	logLevel   string
	logFile    string
}

func main() {
	if err := cliParser().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cliParser() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "localpredict",
		Short:         "localpredict evaluates downloaded models locally",
		Long:          `A tool to make predictions with downloaded model, ensemble and cluster descriptions without calling the remote API`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config := &rootCmdConfig{}
	rootCmd.PersistentFlags().StringVarP(&config.configPath, "config", "c", "", "path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&config.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&config.logFile, "log-file", "", "write logs to this file, rotated by size (defaults to STDERR)")
	rootCmd.AddCommand(versionCmd(), predictCmd(config))
	return rootCmd
}

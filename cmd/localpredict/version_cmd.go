package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	// VersionMajor is the major number in localpredict's version
	VersionMajor = 0
	// VersionMinor is the minor number in localpredict's version
	VersionMinor = 3
	// VersionPatch is the patch number in localpredict's version
	VersionPatch = 0
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of localpredict",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "localpredict v%d.%d.%d\n", VersionMajor, VersionMinor, VersionPatch)
		},
	}
}

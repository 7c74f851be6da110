package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cliVersion is the datasetdb binary's own build version, distinct from
// an index manifest version reported by the versions/stats commands.
const cliVersion = "0.1.0"

func newVersionCmd() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show the datasetdb binary version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datasetdb %s\n", cliVersion)
		},
	}
	return versionCmd
}

var cliVersionCmd = newVersionCmd()

func init() {
	rootCmd.AddCommand(cliVersionCmd)
}

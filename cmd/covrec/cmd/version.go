package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crytic/covrec/version"
)

// versionCmd represents the version command that displays build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.GetInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

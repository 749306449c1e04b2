package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/crytic/covrec/logging"
	"github.com/crytic/covrec/version"
)

// rootCmd represents the root CLI command object which all other commands stem from.
var rootCmd = &cobra.Command{
	Use:     "covrec",
	Version: version.Version,
	Short:   "A basic-block coverage recorder for native executables",
	Long:    "covrec drives a target executable under a live debugger and records basic-block coverage",
}

// cmdLogger is the logger used by the cmd package.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true, make([]io.Writer, 0)...)

// Execute provides an exportable function to invoke the CLI. Returns an error if one was encountered.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	return rootCmd.Execute()
}

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/crytic/covrec/cmd/covrec/cmd/exitcodes"
	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/report"
)

// mergeCmd represents the command provider for combining two binary coverage reports into one.
var mergeCmd = &cobra.Command{
	Use:           "merge <a.json> <b.json>",
	Short:         "Merges two binary coverage reports",
	Long:          "Merges two binary coverage reports together, by default keeping the maximum count seen at each site",
	Args:          cobra.ExactArgs(2),
	RunE:          cmdRunMerge,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	mergeCmd.Flags().StringP("output", "o", "", "path to write the merged report to (defaults to stdout)")
	mergeCmd.Flags().Bool("sum", false, "sum hit counts at each site instead of keeping the maximum")
	rootCmd.AddCommand(mergeCmd)
}

// cmdRunMerge executes the CLI merge command: decode both inputs, merge-max by default or merge-sum with --sum,
// and re-encode the result.
func cmdRunMerge(cmd *cobra.Command, args []string) error {
	sum, err := cmd.Flags().GetBool("sum")
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}

	a, err := decodeBinaryCoverageFile(args[0])
	if err != nil {
		cmdLogger.Error("Failed to run the merge command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}
	b, err := decodeBinaryCoverageFile(args[1])
	if err != nil {
		cmdLogger.Error("Failed to run the merge command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}

	if sum {
		a.MergeSum(b)
	} else {
		a.MergeMax(b)
	}

	data, err := report.EncodeBinaryV1(a)
	if err != nil {
		cmdLogger.Error("Failed to run the merge command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeGeneralError)
	}

	if outputPath == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func decodeBinaryCoverageFile(path string) (*coverage.BinaryCoverage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return report.DecodeBinary(data)
}

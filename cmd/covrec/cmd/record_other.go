//go:build !linux

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recordCmd on non-Linux platforms exists only to give a clear error: the ptrace backend this command drives is
// Linux-only (debugger.LinuxPtrace), matching breakpoint.Manager's x86 trap-byte-only scope.
var recordCmd = &cobra.Command{
	Use:   "record [flags] -- <target> [args...]",
	Short: "Records basic-block coverage of a target executable (Linux only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("record is only supported on linux")
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(recordCmd)
}

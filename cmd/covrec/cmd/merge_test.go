package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
	"github.com/crytic/covrec/report"
)

// newMergeTestCommand builds a fresh *cobra.Command carrying the same flags mergeCmd defines, so each test gets
// its own FlagSet instead of sharing the package-level mergeCmd's (and its "Changed" state) across test cases.
func newMergeTestCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "merge"}
	cmd.Flags().StringP("output", "o", "", "")
	cmd.Flags().Bool("sum", false, "")
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return cmd
}

func writeBinaryCoverageFile(t *testing.T, dir, name string, sites map[module.Offset]coverage.Count) string {
	t.Helper()
	bc := coverage.NewBinaryCoverage()
	mc := coverage.NewModuleBinaryCoverage()
	for off, count := range sites {
		mc.Init(off)
		mc.SetCount(off, count)
	}
	bc.Insert(pathutil.MustNew("/bin/target"), mc)

	data, err := report.EncodeBinaryV1(bc)
	require.NoError(t, err, "failed to encode fixture")
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644), "failed to write fixture")
	return path
}

func TestMergeCommandMergeMaxByDefault(t *testing.T) {
	dir := t.TempDir()
	a := writeBinaryCoverageFile(t, dir, "a.json", map[module.Offset]coverage.Count{0x10: 1, 0x20: 5})
	b := writeBinaryCoverageFile(t, dir, "b.json", map[module.Offset]coverage.Count{0x10: 3, 0x20: 2})
	out := filepath.Join(dir, "merged.json")

	cmd := newMergeTestCommand(t, "-o", out)
	require.NoError(t, cmdRunMerge(cmd, []string{a, b}), "merge command failed")

	data, err := os.ReadFile(out)
	require.NoError(t, err, "failed to read merged output")
	merged, err := report.DecodeBinary(data)
	require.NoError(t, err, "failed to decode merged output")

	mc, ok := merged.Get(pathutil.MustNew("/bin/target"))
	require.True(t, ok, "expected merged coverage to contain /bin/target")

	c, _ := mc.Count(0x10)
	assert.Equal(t, coverage.Count(3), c, "expected max(1,3)=3 at 0x10")
	c, _ = mc.Count(0x20)
	assert.Equal(t, coverage.Count(5), c, "expected max(5,2)=5 at 0x20")
}

func TestMergeCommandSumFlag(t *testing.T) {
	dir := t.TempDir()
	a := writeBinaryCoverageFile(t, dir, "a.json", map[module.Offset]coverage.Count{0x10: 1})
	b := writeBinaryCoverageFile(t, dir, "b.json", map[module.Offset]coverage.Count{0x10: 3})
	out := filepath.Join(dir, "merged.json")

	cmd := newMergeTestCommand(t, "-o", out, "--sum")
	require.NoError(t, cmdRunMerge(cmd, []string{a, b}), "merge command failed")

	data, err := os.ReadFile(out)
	require.NoError(t, err, "failed to read merged output")
	merged, err := report.DecodeBinary(data)
	require.NoError(t, err, "failed to decode merged output")

	mc, _ := merged.Get(pathutil.MustNew("/bin/target"))
	c, _ := mc.Count(0x10)
	assert.Equal(t, coverage.Count(4), c, "expected sum(1,3)=4 at 0x10")
}

func TestMergeCommandRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	a := writeBinaryCoverageFile(t, dir, "a.json", map[module.Offset]coverage.Count{0x10: 1})

	cmd := newMergeTestCommand(t)
	err := cmdRunMerge(cmd, []string{a, filepath.Join(dir, "does-not-exist.json")})
	require.Error(t, err, "expected an error for a missing merge input")
	assert.Contains(t, err.Error(), "no such file", "expected a file-not-found error")
}

//go:build linux

package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/debugger"
	"github.com/crytic/covrec/loader"
	"github.com/crytic/covrec/record"
)

func newRecordTestCommand(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "record"}
	addTestRecordFlagsTo(cmd)
	return cmd
}

// addTestRecordFlagsTo mirrors addRecordFlags but against an arbitrary *cobra.Command, so validation/flag-merge
// tests don't mutate the package-level recordCmd's shared FlagSet.
func addTestRecordFlagsTo(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("module-allowlist", "", "")
	cmd.Flags().String("source-allowlist", "", "")
	cmd.Flags().String("function-allowlist", "", "")
	cmd.Flags().IntP("timeout", "t", 0, "")
	cmd.Flags().StringP("output", "o", "", "")
	cmd.Flags().Bool("dump-stdio", false, "")
	cmd.Flags().String("cache-file", "", "")
}

func TestCmdValidateRecordArgsRequiresDash(t *testing.T) {
	cmd := newRecordTestCommand(t)
	if err := cmd.Flags().Parse([]string{"--timeout", "1000"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if err := cmdValidateRecordArgs(cmd, cmd.Flags().Args()); err == nil {
		t.Fatal("expected an error when no target follows \"--\"")
	}
}

func TestCmdValidateRecordArgsAcceptsTargetAfterDash(t *testing.T) {
	cmd := newRecordTestCommand(t)
	if err := cmd.Flags().Parse([]string{"--timeout", "1000", "--", "./target", "arg1"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if err := cmdValidateRecordArgs(cmd, cmd.Flags().Args()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCmdValidateRecordArgsRejectsArgsBeforeDash(t *testing.T) {
	cmd := newRecordTestCommand(t)
	if err := cmd.Flags().Parse([]string{"extra", "--", "./target"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if err := cmdValidateRecordArgs(cmd, cmd.Flags().Args()); err == nil {
		t.Fatal("expected an error for a positional argument before \"--\"")
	}
}

func TestUpdateRecordConfigWithFlagsOverridesConfig(t *testing.T) {
	cmd := newRecordTestCommand(t)
	if err := cmd.Flags().Parse([]string{"--timeout", "2500", "--output", "lcov", "--dump-stdio"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	cfg := DefaultRecordConfig()
	if err := updateRecordConfigWithFlags(cmd, &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TimeoutMS != 2500 {
		t.Errorf("expected TimeoutMS to be overridden to 2500, got %d", cfg.TimeoutMS)
	}
	if cfg.Output != "lcov" {
		t.Errorf("expected Output to be overridden to lcov, got %q", cfg.Output)
	}
	if !cfg.DumpStdio {
		t.Error("expected DumpStdio to be overridden to true")
	}
}

func TestUpdateRecordConfigWithFlagsLeavesUnsetFieldsAlone(t *testing.T) {
	cmd := newRecordTestCommand(t)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	cfg := RecordConfig{TimeoutMS: 9999, Output: "cobertura"}
	if err := updateRecordConfigWithFlags(cmd, &cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.TimeoutMS != 9999 || cfg.Output != "cobertura" {
		t.Errorf("expected unset flags to leave config untouched, got %+v", cfg)
	}
}

func TestReadRecordConfigFromFileDefaultsMissingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covrec.json")
	if err := os.WriteFile(path, []byte(`{"output":"source"}`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := ReadRecordConfigFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Output != "source" {
		t.Errorf("expected Output to come from the file, got %q", cfg.Output)
	}
	if cfg.TimeoutMS != 5000 {
		t.Errorf("expected TimeoutMS to keep its default of 5000, got %d", cfg.TimeoutMS)
	}
}

func TestLoadAllowListDefaultsToAllowAll(t *testing.T) {
	al, err := loadAllowList(DefaultRecordConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !al.Modules.IsAllowed("anything") || !al.SourceFiles.IsAllowed("anything") || !al.Functions.IsAllowed("anything") {
		t.Error("expected every axis to default to allow-all")
	}
}

func TestLoadAllowListReadsModuleAxisFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modules.json")
	data, _ := json.Marshal([]string{"glob:/usr/lib/*"})
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg := DefaultRecordConfig()
	cfg.ModuleAllowlist = path
	al, err := loadAllowList(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !al.Modules.IsAllowed("/usr/lib/libc.so") {
		t.Error("expected the allowlisted module path to be allowed")
	}
	if al.Modules.IsAllowed("/home/user/target") {
		t.Error("expected a non-matching module path to be rejected")
	}
}

func TestWriteRecordOutputUnknownFormat(t *testing.T) {
	cache := coverage.NewDebugInfoCache()
	loop := debugger.NewLoop(nil, nil)
	rec := record.New(loader.New(), allowlist.Default(), cache, loop)

	err := writeRecordOutput("not-a-format", rec, allowlist.Default(), cache)
	if err == nil {
		t.Fatal("expected an error for an unknown output format")
	}
}

func TestWriteRecordOutputModoffOnEmptyCoverage(t *testing.T) {
	cache := coverage.NewDebugInfoCache()
	loop := debugger.NewLoop(nil, nil)
	rec := record.New(loader.New(), allowlist.Default(), cache, loop)

	out := filepath.Join(t.TempDir(), "out.modoff")
	origStdout := os.Stdout
	f, err := os.Create(out)
	if err != nil {
		t.Fatalf("failed to create fixture output: %v", err)
	}
	os.Stdout = f
	err = writeRecordOutput("modoff", rec, allowlist.Default(), cache)
	os.Stdout = origStdout
	f.Close()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, readErr := os.ReadFile(out)
	if readErr != nil {
		t.Fatalf("failed to read captured output: %v", readErr)
	}
	if len(data) != 0 {
		t.Errorf("expected no modoff lines for empty coverage, got %q", data)
	}
}

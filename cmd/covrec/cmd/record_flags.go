//go:build linux

package cmd

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// RecordConfig is the JSON shape accepted by --config, mirroring the flags record accepts so that a config file
// and CLI flags can be freely mixed (flags always win over a value present in the file).
type RecordConfig struct {
	ModuleAllowlist   string `json:"module_allowlist"`
	SourceAllowlist   string `json:"source_allowlist"`
	FunctionAllowlist string `json:"function_allowlist"`
	TimeoutMS         int    `json:"timeout_ms"`
	Output            string `json:"output"`
	DumpStdio         bool   `json:"dump_stdio"`
	CacheFile         string `json:"cache_file"`
}

// DefaultRecordConfig returns the configuration used when no --config file is found and no flags override it.
func DefaultRecordConfig() RecordConfig {
	return RecordConfig{TimeoutMS: 5000, Output: "modoff"}
}

// ReadRecordConfigFromFile reads and parses a RecordConfig from a JSON file at path.
func ReadRecordConfigFromFile(path string) (*RecordConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read record config file %q", path)
	}
	cfg := DefaultRecordConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse record config file %q", path)
	}
	return &cfg, nil
}

// addRecordFlags adds the various flags for the record command.
func addRecordFlags() {
	recordCmd.Flags().String("config", "", "path to a RecordConfig JSON file")
	recordCmd.Flags().String("module-allowlist", "", "path to a JSON array of module allowlist patterns")
	recordCmd.Flags().String("source-allowlist", "", "path to a JSON array of source file allowlist patterns")
	recordCmd.Flags().String("function-allowlist", "", "path to a JSON array of function allowlist patterns")
	recordCmd.Flags().IntP("timeout", "t", 0, "session timeout in milliseconds (unless a config file is provided, default is 5000)")
	recordCmd.Flags().StringP("output", "o", "", "report format: modoff|source|cobertura|lcov (unless a config file is provided, default is modoff)")
	recordCmd.Flags().Bool("dump-stdio", false, "inherit the target's stdin/stdout/stderr instead of discarding them")
	recordCmd.Flags().String("cache-file", "", "path to a bbolt database persisting debug-info lookups across runs against the same binary (disabled by default)")
}

// updateRecordConfigWithFlags updates cfg with any CLI flags that were explicitly set.
func updateRecordConfigWithFlags(cmd *cobra.Command, cfg *RecordConfig) error {
	var err error

	if cmd.Flags().Changed("module-allowlist") {
		cfg.ModuleAllowlist, err = cmd.Flags().GetString("module-allowlist")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("source-allowlist") {
		cfg.SourceAllowlist, err = cmd.Flags().GetString("source-allowlist")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("function-allowlist") {
		cfg.FunctionAllowlist, err = cmd.Flags().GetString("function-allowlist")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("timeout") {
		cfg.TimeoutMS, err = cmd.Flags().GetInt("timeout")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("output") {
		cfg.Output, err = cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("dump-stdio") {
		cfg.DumpStdio, err = cmd.Flags().GetBool("dump-stdio")
		if err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("cache-file") {
		cfg.CacheFile, err = cmd.Flags().GetString("cache-file")
		if err != nil {
			return err
		}
	}

	return nil
}

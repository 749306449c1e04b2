//go:build linux

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/net/context"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/cmd/covrec/cmd/exitcodes"
	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/debugger"
	"github.com/crytic/covrec/loader"
	"github.com/crytic/covrec/record"
	"github.com/crytic/covrec/report"
	"github.com/crytic/covrec/utils"
)

// DefaultRecordConfigFilename is the file record looks for in the working directory when --config is not used.
const DefaultRecordConfigFilename = "covrec.json"

// recordCmd represents the command provider for recording basic-block coverage of a target executable.
var recordCmd = &cobra.Command{
	Use:                "record [flags] -- <target> [args...]",
	Short:              "Records basic-block coverage of a target executable",
	Long:               "Spawns a target executable under ptrace, records which basic blocks execute, and writes a coverage report",
	Args:               cmdValidateRecordArgs,
	RunE:               cmdRunRecord,
	SilenceUsage:       true,
	SilenceErrors:      true,
	DisableFlagParsing: false,
}

func init() {
	addRecordFlags()
	rootCmd.AddCommand(recordCmd)
}

// cmdValidateRecordArgs ensures a target command was provided after a literal "--".
func cmdValidateRecordArgs(cmd *cobra.Command, args []string) error {
	dashIdx := cmd.ArgsLenAtDash()
	if dashIdx < 0 || dashIdx >= len(args) {
		err := fmt.Errorf("record requires a target executable after \"--\", e.g. \"covrec record -- ./target arg1\"")
		cmdLogger.Error("Failed to validate args to the record command", err)
		return err
	}
	if dashIdx > 0 {
		err := fmt.Errorf("record does not accept positional arguments before \"--\"")
		cmdLogger.Error("Failed to validate args to the record command", err)
		return err
	}
	return nil
}

// cmdRunRecord executes the CLI record command. It follows the same config-file-or-default flow as the fuzz
// command: look for --config or the default covrec.json, fall back to defaults, then let explicit flags win.
func cmdRunRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadRecordConfig(cmd)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}

	if err := updateRecordConfigWithFlags(cmd, cfg); err != nil {
		cmdLogger.Error("Failed to run the record command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}

	dashIdx := cmd.ArgsLenAtDash()
	target := args[dashIdx]
	targetArgs := args[dashIdx+1:]

	al, err := loadAllowList(*cfg)
	if err != nil {
		cmdLogger.Error("Failed to run the record command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}

	ld := loader.New()
	cache, err := openDebugInfoCache(cfg.CacheFile)
	if err != nil {
		cmdLogger.Error("Failed to run the record command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeSetupFailure)
	}
	defer cache.Close()
	backend := debugger.NewLinuxPtrace()
	loop := debugger.NewLoop(backend, nil)
	rec := record.New(ld, al, cache, loop)
	loop.SetRecorder(rec)

	stdio := debugger.StdioNull
	if cfg.DumpStdio {
		stdio = debugger.StdioInherit
	}

	sessionID := uuid.New().String()
	cmdLogger.Info(fmt.Sprintf("Starting recording session %s for: %s", sessionID, target))

	// Terminate the tracee on an interrupt, same idea as cmdRunFuzz's fuzzer.Stop() on os.Interrupt, but here
	// there is no cooperative Stop(): killing the backend directly is what lets a stuck target be interrupted
	// before its own timeout elapses. interruptCtx is cancelled ONLY by a real signal; doneCh is closed when
	// loop.Run returns so the poller never mistakes normal completion for an interrupt.
	interruptCtx, cancelInterrupt := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancelInterrupt()
		case <-doneCh:
		}
	}()
	go func() {
		for !utils.CheckContextDone(interruptCtx) {
			select {
			case <-doneCh:
				return
			default:
				time.Sleep(50 * time.Millisecond)
			}
		}
		_ = backend.Terminate()
	}()

	result, err := loop.Run(target, targetArgs, record.ChildEnviron(os.Environ()), stdio, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	close(doneCh)
	cancelInterrupt()
	if err != nil {
		cmdLogger.Error("Failed to run the record command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeGeneralError)
	}
	if result.TimedOut {
		cmdLogger.Warn(fmt.Sprintf("Session for %v timed out after %dms", target, cfg.TimeoutMS))
	}

	return writeRecordOutput(cfg.Output, rec, al, cache)
}

// openDebugInfoCache returns a persistent bbolt-backed DebugInfoCache when cacheFile is set, so
// repeated recording sessions against the same binary skip re-walking its DWARF line table, or a
// plain in-memory one (never written to disk) when it isn't.
func openDebugInfoCache(cacheFile string) (*coverage.DebugInfoCache, error) {
	if cacheFile == "" {
		return coverage.NewDebugInfoCache(), nil
	}
	return coverage.NewPersistentDebugInfoCache(cacheFile)
}

// loadRecordConfig implements the find-or-default-then-flag-override flow: if --config was used, the file must
// exist and parse; otherwise covrec.json in the working directory is used if present, and the hardcoded defaults
// otherwise.
func loadRecordConfig(cmd *cobra.Command) (*RecordConfig, error) {
	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(workingDirectory, DefaultRecordConfigFilename)
	}

	_, existenceError := os.Stat(configPath)

	if existenceError == nil {
		cmdLogger.Info(fmt.Sprintf("Reading the configuration file at: %s", configPath))
		return ReadRecordConfigFromFile(configPath)
	}

	if configFlagUsed {
		return nil, existenceError
	}

	cmdLogger.Warn(fmt.Sprintf("Unable to find the config file at %v, will use the default record configuration instead", configPath))
	cfg := DefaultRecordConfig()
	return &cfg, nil
}

// loadAllowList builds an allowlist.AllowList from whichever of the three axis files cfg names, defaulting any
// unset axis to allowlist.AllowAll.
func loadAllowList(cfg RecordConfig) (allowlist.AllowList, error) {
	al := allowlist.Default()

	if cfg.ModuleAllowlist != "" {
		p, err := loadAllowListAxis(cfg.ModuleAllowlist)
		if err != nil {
			return allowlist.AllowList{}, errors.Wrapf(err, "loading module allowlist")
		}
		al.Modules = p
	}
	if cfg.SourceAllowlist != "" {
		p, err := loadAllowListAxis(cfg.SourceAllowlist)
		if err != nil {
			return allowlist.AllowList{}, errors.Wrapf(err, "loading source allowlist")
		}
		al.SourceFiles = p
	}
	if cfg.FunctionAllowlist != "" {
		p, err := loadAllowListAxis(cfg.FunctionAllowlist)
		if err != nil {
			return allowlist.AllowList{}, errors.Wrapf(err, "loading function allowlist")
		}
		al.Functions = p
	}

	return al, nil
}

// loadAllowListAxis reads a JSON array of allowlist patterns from path.
func loadAllowListAxis(path string) (allowlist.Predicate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read allowlist file %q", path)
	}
	var patterns []string
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, errors.Wrapf(err, "failed to parse allowlist file %q", path)
	}
	return allowlist.NewList(patterns)
}

// writeRecordOutput projects and encodes the recorded coverage per outputFormat, writing the result to stdout.
// Source-derived formats reuse al.SourceFiles so the same allowlist that scoped site selection also scopes which
// files appear in the report.
func writeRecordOutput(outputFormat string, rec *record.Recorder, al allowlist.AllowList, cache *coverage.DebugInfoCache) error {
	var data []byte
	var err error

	projectSource := func() (*coverage.SourceCoverage, error) {
		return coverage.ProjectSource(rec.Coverage(), rec.LoadedModules(), cache, al.SourceFiles)
	}

	switch outputFormat {
	case "", "modoff":
		data = report.WriteModoff(rec.Coverage())
	case "source":
		sc, projErr := projectSource()
		if projErr != nil {
			return projErr
		}
		data, err = report.EncodeSourceV1(sc)
	case "cobertura":
		sc, projErr := projectSource()
		if projErr != nil {
			return projErr
		}
		data, err = report.WriteCobertura(sc)
	case "lcov":
		sc, projErr := projectSource()
		if projErr != nil {
			return projErr
		}
		data = report.WriteLCOV(sc)
	default:
		return fmt.Errorf("unknown output format %q, expected modoff|source|cobertura|lcov", outputFormat)
	}
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(data)
	return err
}

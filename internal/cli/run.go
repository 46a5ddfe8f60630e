package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/config"
	"github.com/roach88/pocharness/internal/harness"
	"github.com/roach88/pocharness/internal/history"
	"github.com/roach88/pocharness/internal/logging"
	"github.com/roach88/pocharness/internal/report"
	"github.com/roach88/pocharness/internal/sandbox"
)

// RunOptions holds options for the run command. Flag values only override
// the config file when the flag was set explicitly.
type RunOptions struct {
	*RootOptions
	filter filterFlags

	Concurrency   int
	Repeat        int
	Timeout       time.Duration
	MemoryLimit   config.ByteSize
	OutputLimit   config.ByteSize
	StallWindow   time.Duration
	Sanitizer     string
	Toolchain     string
	Allowlist     string
	History       string
	HistoryWindow int
	MetricsFile   string
	WorkDir       string
	KeepWorkDirs  bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{
		RootOptions: rootOpts,
		MemoryLimit: config.ByteSize(sandbox.DefaultMemoryLimit),
		OutputLimit: config.ByteSize(sandbox.DefaultOutputLimit),
	}

	cmd := &cobra.Command{
		Use:   "run [corpus-dir]",
		Short: "Build and run every case and check its outcome",
		Long: `Build every selected case against its pinned target version, run it in an
isolated process under the configured limits, and classify the outcome
against the declared bug class.

The run fails (exit 1) if any executable case did not match and is not an
accepted flaky case. Cases reported without a PoC are attested, never run.

Example:
  pocharness run ./poc
  pocharness run -j 8 --repeat 3 --allowlist flaky.yaml ./poc
  pocharness run --bug-class SendSyncVariance --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorpus(opts, args, cmd)
		},
	}

	opts.filter.register(cmd)
	f := cmd.Flags()
	f.IntVarP(&opts.Concurrency, "concurrency", "j", config.DefaultConcurrency, "cases run in parallel")
	f.IntVar(&opts.Repeat, "repeat", config.DefaultRepeat, "attempts per case; differing outcomes mark a case flaky")
	f.DurationVar(&opts.Timeout, "timeout", sandbox.DefaultTimeout, "wall-clock limit per case")
	f.Var(&opts.MemoryLimit, "memory-limit", "memory limit per case, e.g. 2GiB (0 disables)")
	f.Var(&opts.OutputLimit, "output-limit", "captured output limit per case")
	f.DurationVar(&opts.StallWindow, "stall-window", 0, "kill a case idle for this long as hung (0 disables)")
	f.StringVar(&opts.Sanitizer, "sanitizer", "", "build with -Zsanitizer=<name>, e.g. address")
	f.StringVar(&opts.Toolchain, "toolchain", "", "cargo toolchain for cases that do not pin one")
	f.StringVar(&opts.Allowlist, "allowlist", "", "YAML file of accepted flaky cases")
	f.StringVar(&opts.History, "history", "", "SQLite run history database")
	f.IntVar(&opts.HistoryWindow, "history-window", 0, "previous runs consulted for flakiness (0 means all)")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus text metrics to this file")
	f.StringVar(&opts.WorkDir, "work-dir", "", "parent directory for per-case build directories")
	f.BoolVar(&opts.KeepWorkDirs, "keep-work-dirs", false, "keep per-case build directories")

	return cmd
}

// settings merges explicitly set flags over the loaded config.
func (o *RunOptions) settings(cmd *cobra.Command) (*config.Config, error) {
	loaded, err := o.config()
	if err != nil {
		return nil, err
	}
	cfg := *loaded

	f := cmd.Flags()
	if f.Changed("concurrency") {
		cfg.Concurrency = o.Concurrency
	}
	if f.Changed("repeat") {
		cfg.Repeat = o.Repeat
	}
	if f.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if f.Changed("memory-limit") {
		cfg.MemoryLimit = o.MemoryLimit
	}
	if f.Changed("output-limit") {
		cfg.OutputLimit = o.OutputLimit
	}
	if f.Changed("stall-window") {
		cfg.StallWindow = o.StallWindow
	}
	if f.Changed("sanitizer") {
		cfg.Build.Sanitizer = o.Sanitizer
	}
	if f.Changed("toolchain") {
		cfg.Build.Toolchain = o.Toolchain
	}
	if f.Changed("allowlist") {
		cfg.FlakyAllowlist = o.Allowlist
	}
	if f.Changed("history") {
		cfg.History = o.History
	}
	if f.Changed("history-window") {
		cfg.HistoryWindow = o.HistoryWindow
	}
	if f.Changed("metrics-file") {
		cfg.MetricsFile = o.MetricsFile
	}
	if f.Changed("work-dir") {
		cfg.WorkDir = o.WorkDir
	}
	if f.Changed("keep-work-dirs") {
		cfg.KeepWorkDirs = o.KeepWorkDirs
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// executor returns the test override or a cargo-backed runner.
func (o *RunOptions) executor(cfg *config.Config) harness.Executor {
	if o.Executor != nil {
		return o.Executor
	}
	runner := sandbox.NewRunner(cfg.Builder(), cfg.Limits(), logging.New("sandbox"))
	runner.WorkDir = cfg.WorkDir
	runner.KeepWorkDirs = cfg.KeepWorkDirs
	return runner
}

func runCorpus(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	dir := corpusDir(args, cfg.Corpus)
	corpus, err := loadCorpus(formatter, dir)
	if err != nil {
		return err
	}
	cases, err := selectCases(formatter, corpus, &opts.filter)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Selected %d of %d case(s)", len(cases), corpus.Registry.Len())

	h := harness.New(opts.executor(cfg), cfg.Concurrency, cfg.Repeat, logging.New("harness"))
	h.HistoryWindow = cfg.HistoryWindow

	if cfg.FlakyAllowlist != "" {
		allow, err := report.LoadAllowlist(cfg.FlakyAllowlist)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid flaky allowlist", err)
		}
		h.Allowlist = allow
	}

	if cfg.History != "" {
		st, err := history.Open(cfg.History)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeHistory, "cannot open run history", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing run history", "error", closeErr)
			}
		}()
		h.History = st
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parentCtx)
	defer cancel(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping run", "signal", sig)
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}
	}()

	res, err := h.Run(ctx, cases, corpus.Malformed)
	if err != nil {
		if errors.Is(err, harness.ErrRunCancelled) {
			return formatter.Fail(ExitCommandError, ErrCodeCancelled, "run cancelled", err)
		}
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "run failed", err)
	}
	s := res.Summary

	if cfg.MetricsFile != "" {
		if err := report.WriteMetrics(cfg.MetricsFile, s); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "cannot write metrics file", err)
		}
		formatter.VerboseLog("Wrote metrics to %s", cfg.MetricsFile)
	}

	if err := writeSummary(opts, cmd, s); err != nil {
		return WrapExitError(ExitCommandError, "write report", err)
	}

	if !s.Pass {
		return NewExitError(ExitFailure, failureMessage(s))
	}
	return nil
}

// writeSummary renders the run in the selected format.
func writeSummary(opts *RunOptions, cmd *cobra.Command, s *report.Summary) error {
	out := cmd.OutOrStdout()
	switch opts.Format {
	case FormatJSON:
		resp := CLIResponse{Status: "ok", Data: s, RunID: s.RunID}
		if !s.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeMismatch, Message: failureMessage(s), Details: s.Failed}
		}
		return json.NewEncoder(out).Encode(resp)
	case FormatMarkdown:
		return report.RenderMarkdown(out, s)
	default:
		return report.RenderText(out, s, report.TextOptions{
			Color:   opts.useColor(out),
			Verbose: opts.Verbose,
		})
	}
}

func failureMessage(s *report.Summary) string {
	return fmt.Sprintf("%d case(s) failed: %s", len(s.Failed), strings.Join(s.Failed, ", "))
}

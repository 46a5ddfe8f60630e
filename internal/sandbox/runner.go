package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/roach88/pocharness/internal/meta"
)

// Runner builds and executes one case at a time in its own work directory
// and process group. A Runner holds no per-case state and may be shared by
// concurrent workers.
type Runner struct {
	Builder Builder
	Limits  Limits

	// WorkDir is the parent of the per-case temp directories. Empty means
	// os.TempDir().
	WorkDir string

	// KeepWorkDirs leaves build directories in place for debugging.
	KeepWorkDirs bool

	Logger *slog.Logger
}

// NewRunner returns a Runner with the given builder and limits.
func NewRunner(b Builder, limits Limits, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{Builder: b, Limits: limits, Logger: logger}
}

// Run builds and executes c. No-PoC cases are never built or spawned.
//
// Build failures and isolation failures are reported through the result's
// Outcome, never as an error. The only error is ctx's, when the run was
// cancelled; the partial result is then discarded.
func (r *Runner) Run(ctx context.Context, c *meta.CaseDescriptor) (*ExecutionResult, error) {
	if c.Hint.NoPoC {
		return &ExecutionResult{
			CaseID:  c.ID,
			Outcome: Completed,
			Skipped: true,
			Note:    NoteNoPoC,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := r.logger().With("case_id", c.ID)

	dir, err := os.MkdirTemp(r.WorkDir, "poc-"+c.ID+"-")
	if err != nil {
		return r.isolationFailure(logger, &IsolationError{CaseID: c.ID, Stage: "workdir", Err: err}), nil
	}
	if r.KeepWorkDirs {
		logger.Info("keeping work directory", "dir", dir)
	} else {
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("remove work directory", "dir", dir, "error", err)
			}
		}()
	}

	art, err := r.Builder.Build(ctx, c, dir)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return r.buildFailure(logger, c, err), nil
	}

	res, err := r.execute(ctx, c, art)
	if err != nil {
		return nil, err
	}
	res.BuildTime = art.BuildTime
	logger.Debug("case finished",
		"outcome", res.Outcome,
		"status", res.ExitStatus(),
		"wall_time", res.WallTime,
		"truncated", res.Truncated)
	return res, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func (r *Runner) buildFailure(logger *slog.Logger, c *meta.CaseDescriptor, err error) *ExecutionResult {
	var ie *IsolationError
	if errors.As(err, &ie) {
		return r.isolationFailure(logger, ie)
	}

	res := &ExecutionResult{CaseID: c.ID, Outcome: BuildFailed, ExitCode: -1}
	var be *BuildError
	if errors.As(err, &be) {
		res.Output = be.Output
		res.Note = be.Note
	} else {
		res.Output = err.Error()
	}
	logger.Warn("build failed", "error", err)
	return res
}

// isolationFailure records a case the harness could not isolate. It counts as
// BuildFailed, marked inconclusive, and the run continues.
func (r *Runner) isolationFailure(logger *slog.Logger, err *IsolationError) *ExecutionResult {
	logger.Error("isolation failure", "stage", err.Stage, "error", err.Err)
	return &ExecutionResult{
		CaseID:       err.CaseID,
		Outcome:      BuildFailed,
		ExitCode:     -1,
		Inconclusive: true,
		Note:         fmt.Sprintf("%s: %s: %v", NoteIsolation, err.Stage, err.Err),
	}
}

// execute runs the artifact under the wall-clock timeout, memory ceiling and
// output cap, then maps how it ended to an OutcomeKind.
func (r *Runner) execute(ctx context.Context, c *meta.CaseDescriptor, art *Artifact) (*ExecutionResult, error) {
	limits := r.Limits

	// kill carries the reason the runner terminated the case; the timeout
	// context records errWallClock the same way.
	killCtx, kill := context.WithCancelCause(ctx)
	defer kill(nil)
	runCtx, cancel := context.WithTimeoutCause(killCtx, limits.Timeout, errWallClock)
	defer cancel()

	out := newBoundedBuffer(limits.OutputLimit)
	cmd := exec.CommandContext(runCtx, art.Path, art.Args...)
	cmd.Dir = art.Dir
	cmd.Env = append(os.Environ(), art.Env...)
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = limits.GracePeriod

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return r.isolationFailure(r.logger().With("case_id", c.ID),
			&IsolationError{CaseID: c.ID, Stage: "spawn", Err: err}), nil
	}

	if !art.NoAddressLimit {
		if err := applyMemoryLimit(cmd.Process.Pid, limits.MemoryLimit); err != nil {
			_ = killProcessGroup(cmd)
			_ = cmd.Wait()
			return r.isolationFailure(r.logger().With("case_id", c.ID),
				&IsolationError{CaseID: c.ID, Stage: "rlimit", Err: err}), nil
		}
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watch(runCtx, cmd.Process.Pid, out, limits, kill)
	}()

	waitErr := cmd.Wait()
	wall := time.Since(start)
	// Reap anything the case forked that outlived it.
	_ = killProcessGroup(cmd)
	cancel()
	<-watchDone

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	output, truncated := out.Snapshot()
	res := &ExecutionResult{
		CaseID:    c.ID,
		Output:    output,
		Truncated: truncated,
		WallTime:  wall,
		ExitCode:  -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if sig, ok := terminationSignal(cmd.ProcessState); ok {
		res.Signal = sig
	}

	cause := context.Cause(runCtx)
	if !errors.Is(cause, errWallClock) && !errors.Is(cause, errMemoryCeiling) && !errors.Is(cause, errStalled) {
		cause = nil
	}
	if cause == nil && waitErr != nil && !isExitError(waitErr) {
		// Wait failed for a reason other than the process exiting (e.g.
		// WaitDelay expired with pipes still open).
		res.Note = waitErr.Error()
	}
	memCapped := limits.MemoryLimit > 0 && !art.NoAddressLimit
	res.Outcome, res.Note = outcomeOf(cause, res.ExitCode, res.Signal, output, res.Note, memCapped)
	return res, nil
}

func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}

// rustPanicExitCode is the exit status of a Rust process whose main thread
// panicked with the default unwind strategy.
const rustPanicExitCode = 101

var sanitizerBanners = []string{
	"ERROR: AddressSanitizer",
	"WARNING: ThreadSanitizer",
	"ERROR: LeakSanitizer",
	"WARNING: MemorySanitizer",
	"ERROR: MemorySanitizer",
}

var crashSignals = map[string]bool{
	"SIGSEGV": true,
	"SIGBUS":  true,
	"SIGILL":  true,
	"SIGFPE":  true,
	"SIGABRT": true,
	"SIGKILL": true,
	"SIGTRAP": true,
	"SIGSYS":  true,
}

// Markers printed by the Rust runtime.
const (
	panicMarker      = "panicked at"
	allocFailMarker  = "memory allocation of"
	stackOverflowMsg = "has overflowed its stack"
)

// Lowercased messages of a process that failed an allocation and exited on
// its own instead of aborting.
var outOfMemoryMarkers = []string{
	"memory exhausted",
	"cannot allocate memory",
	"out of memory",
	"os error 12",
}

// outcomeOf maps how a process ended to an OutcomeKind. A kill cause from
// the runner wins; then sanitizer reports; then the exit status. memCapped
// says the address-space backstop applied, so a non-zero exit reporting
// ENOMEM is a breach of the memory ceiling.
func outcomeOf(cause error, exitCode int, signal, output, note string, memCapped bool) (OutcomeKind, string) {
	switch {
	case errors.Is(cause, errWallClock):
		return TimedOut, note
	case errors.Is(cause, errMemoryCeiling):
		return Crashed, NoteResourceExhaustion
	case errors.Is(cause, errStalled):
		return HungNoProgress, note
	}

	if HasSanitizerReport(output) {
		return SanitizerFlagged, note
	}

	if signal != "" {
		switch {
		case signal == "SIGABRT" && strings.Contains(output, allocFailMarker):
			return Crashed, NoteResourceExhaustion
		case signal == "SIGABRT" && strings.Contains(output, panicMarker) && !strings.Contains(output, stackOverflowMsg):
			return Panicked, NoteAbortedAfterPanic
		case crashSignals[signal]:
			return Crashed, note
		default:
			return Crashed, joinNote(note, "signal "+signal)
		}
	}

	switch {
	case exitCode == 0:
		return Completed, note
	case memCapped && reportsOutOfMemory(output):
		return Crashed, NoteResourceExhaustion
	case exitCode == rustPanicExitCode && strings.Contains(output, panicMarker):
		return Panicked, note
	default:
		return Completed, joinNote(note, NoteNonZeroExit)
	}
}

// HasSanitizerReport reports whether output contains a sanitizer error banner.
func HasSanitizerReport(output string) bool {
	for _, b := range sanitizerBanners {
		if strings.Contains(output, b) {
			return true
		}
	}
	return false
}

func reportsOutOfMemory(output string) bool {
	lower := strings.ToLower(output)
	for _, m := range outOfMemoryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func joinNote(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

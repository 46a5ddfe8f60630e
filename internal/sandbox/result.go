package sandbox

import (
	"fmt"
	"time"
)

// OutcomeKind is the runner's classification of how a case process ended.
type OutcomeKind string

const (
	Completed        OutcomeKind = "Completed"
	Panicked         OutcomeKind = "Panicked"
	Crashed          OutcomeKind = "Crashed"
	TimedOut         OutcomeKind = "TimedOut"
	HungNoProgress   OutcomeKind = "HungNoProgress"
	SanitizerFlagged OutcomeKind = "SanitizerFlagged"
	BuildFailed      OutcomeKind = "BuildFailed"
)

// Notes attached to results to distinguish variants of an outcome kind.
const (
	NoteNoPoC              = "no-poc"
	NoteResourceExhaustion = "resource-exhaustion"
	NoteAbortedAfterPanic  = "aborted-after-panic"
	NoteNonZeroExit        = "nonzero-exit"
	NoteBuildTimeout       = "build-timeout"
	NoteIsolation          = "isolation-failure"
)

// ExecutionResult is the raw result of one runner invocation. It is not
// modified after Run returns.
type ExecutionResult struct {
	CaseID  string      `json:"case_id"`
	Attempt int         `json:"attempt,omitempty"`
	Outcome OutcomeKind `json:"outcome"`

	// ExitCode is the process exit code, or -1 when it died from a signal.
	ExitCode int    `json:"exit_code"`
	Signal   string `json:"signal,omitempty"`

	// Output is stdout and stderr interleaved, capped at Limits.OutputLimit.
	// A truncated capture keeps the first and last halves of the cap.
	Output    string `json:"output,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`

	WallTime  time.Duration `json:"wall_time"`
	BuildTime time.Duration `json:"build_time,omitempty"`

	// Skipped is set for no-PoC cases, which are never executed.
	Skipped bool `json:"skipped,omitempty"`

	// Inconclusive is set when the harness could not isolate the case
	// (spawn or resource-limit failure). Outcome is BuildFailed.
	Inconclusive bool `json:"inconclusive,omitempty"`

	Note string `json:"note,omitempty"`
}

// ExitStatus renders the exit code or signal, e.g. "exit 101" or "SIGSEGV".
func (r *ExecutionResult) ExitStatus() string {
	switch {
	case r.Skipped:
		return "-"
	case r.Signal != "":
		return r.Signal
	case r.Outcome == BuildFailed:
		return "-"
	default:
		return fmt.Sprintf("exit %d", r.ExitCode)
	}
}

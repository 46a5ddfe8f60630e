package sandbox

import (
	"errors"
	"fmt"
)

// BuildError means the case did not compile or its dependencies did not
// resolve. It becomes a BuildFailed result, never a harness failure.
type BuildError struct {
	CaseID string
	Output string
	Note   string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build case %s: %v", e.CaseID, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsolationError means the harness could not set up an isolated process for
// the case: no work directory, spawn failure, or resource limits refused.
// The case is marked inconclusive and the run continues.
type IsolationError struct {
	CaseID string
	Stage  string
	Err    error
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("isolate case %s (%s): %v", e.CaseID, e.Stage, e.Err)
}

func (e *IsolationError) Unwrap() error {
	return e.Err
}

// IsBuildError returns true if err is (or wraps) a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// IsIsolationError returns true if err is (or wraps) an IsolationError.
func IsIsolationError(err error) bool {
	var ie *IsolationError
	return errors.As(err, &ie)
}

// Causes recorded on the run context when the runner kills a case.
var (
	errWallClock     = errors.New("wall-clock timeout")
	errMemoryCeiling = errors.New("memory ceiling exceeded")
	errStalled       = errors.New("no progress within stall window")
)

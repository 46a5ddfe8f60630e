package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/sandbox"
)

func caseOf(id string, classes ...meta.BugClass) *meta.CaseDescriptor {
	c := &meta.CaseDescriptor{ID: id, Name: id + "-case"}
	for _, class := range classes {
		c.ExpectedBugs = append(c.ExpectedBugs, meta.ExpectedBug{Analyzer: "UnsafeDataflow", BugClass: class})
	}
	return c
}

func result(outcome sandbox.OutcomeKind, output string) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{CaseID: "x", Outcome: outcome, Output: output}
}

const (
	cleanPanic = "thread 'main' panicked at src/main.rs:40:52:\nIterator panicked\n" +
		"note: run with `RUST_BACKTRACE=1` environment variable to display a backtrace\n"

	doubleDropPanic = "thread 'main' panicked at src/main.rs:40:52:\nIterator panicked\n" +
		"Dropping 1\nDropping 2\nDropping 1\n"

	stackvectorAssert = "i: 1094795585\n" +
		"thread 'main' panicked at src/main.rs:57:5:\nassertion failed: i == 42\n"
)

func TestClassifySkippedIsAttested(t *testing.T) {
	v := New().Classify(caseOf("0078", meta.PanicSafety),
		&sandbox.ExecutionResult{CaseID: "0078", Outcome: sandbox.Completed, Skipped: true})

	assert.True(t, v.Matched)
	assert.Equal(t, StatusAttested, v.Status)
	assert.Empty(t, v.MismatchReason)
}

func TestClassifyPanicSafety(t *testing.T) {
	c := caseOf("0111", meta.PanicSafety)
	cl := New()

	t.Run("post-condition check fails", func(t *testing.T) {
		v := cl.Classify(c, result(sandbox.Panicked, doubleDropPanic))
		assert.True(t, v.Matched)
		assert.Equal(t, StatusMatched, v.Status)
		assert.Equal(t, meta.PanicSafety, v.MatchedClass)
		assert.Equal(t, ManifestPanicAnomaly, v.MatchedBy)
		assert.Contains(t, v.Evidence, "repeated drop: Dropping 1")
	})

	t.Run("post-condition check passes", func(t *testing.T) {
		v := cl.Classify(c, result(sandbox.Panicked, cleanPanic))
		assert.False(t, v.Matched)
		assert.Equal(t, StatusMismatch, v.Status)
		assert.Contains(t, v.MismatchReason, "PanicSafety")
		assert.Contains(t, v.MismatchReason, "Panicked without post-condition anomaly")
	})

	t.Run("abort after panic", func(t *testing.T) {
		res := result(sandbox.Panicked, cleanPanic+"free(): double free detected in tcache 2\n")
		res.Note = sandbox.NoteAbortedAfterPanic
		v := cl.Classify(c, res)
		assert.True(t, v.Matched)
		assert.Contains(t, v.Evidence, "double free")
		assert.Contains(t, v.Evidence, "aborted after panic")
	})

	t.Run("anonymous drop lines are not a double drop", func(t *testing.T) {
		v := cl.Classify(c, result(sandbox.Panicked, cleanPanic+"Dropped\nDropped\n"))
		assert.False(t, v.Matched)
		assert.Equal(t, StatusMismatch, v.Status)
		assert.Empty(t, v.Evidence)
	})

	t.Run("bare panic under panic=abort", func(t *testing.T) {
		res := result(sandbox.Panicked, cleanPanic)
		res.Note = sandbox.NoteAbortedAfterPanic
		v := cl.Classify(c, res)
		assert.False(t, v.Matched)
		assert.Empty(t, v.Evidence)
	})

	t.Run("crash alone is not a panic-safety manifestation", func(t *testing.T) {
		v := cl.Classify(c, result(sandbox.Crashed, ""))
		assert.False(t, v.Matched)
	})
}

func TestClassifyInconsistencyAmplification(t *testing.T) {
	c := caseOf("0124", meta.InconsistencyAmplification)
	cl := New()

	tests := []struct {
		name    string
		res     *sandbox.ExecutionResult
		matched bool
		by      Manifestation
	}{
		{"unbounded loop times out", result(sandbox.TimedOut, ""), true, ManifestUnboundedWork},
		{"crash", result(sandbox.Crashed, ""), true, ManifestCrash},
		{"case assertion", result(sandbox.Panicked, stackvectorAssert), true, ManifestSelfAssertedCorruption},
		{"sanitizer", result(sandbox.SanitizerFlagged, "ERROR: AddressSanitizer"), true, ManifestSanitizer},
		{"plain panic", result(sandbox.Panicked, cleanPanic), false, ""},
		{"completed", result(sandbox.Completed, "i: 42\n"), false, ""},
		{"hung without cpu", result(sandbox.HungNoProgress, ""), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cl.Classify(c, tt.res)
			assert.Equal(t, tt.matched, v.Matched)
			assert.Equal(t, tt.by, v.MatchedBy)
			if !tt.matched {
				assert.Contains(t, v.MismatchReason, "InconsistencyAmplification")
				assert.Contains(t, v.MismatchReason, string(tt.res.Outcome))
			}
		})
	}
}

func TestClassifyUndefinedBehaviourClasses(t *testing.T) {
	cl := New()
	for _, class := range []meta.BugClass{meta.SendSyncVariance, meta.UninitExposure} {
		c := caseOf("0036", class)

		assert.True(t, cl.Classify(c, result(sandbox.Crashed, "")).Matched, class)
		assert.True(t, cl.Classify(c, result(sandbox.SanitizerFlagged, "")).Matched, class)
		assert.True(t, cl.Classify(c, result(sandbox.Panicked, stackvectorAssert)).Matched, class)
		assert.False(t, cl.Classify(c, result(sandbox.TimedOut, "")).Matched, "timeouts only confirm unbounded work")
		assert.False(t, cl.Classify(c, result(sandbox.Completed, "")).Matched, class)
	}
}

func TestClassifyOtherAndUnknownClasses(t *testing.T) {
	cl := New()
	for _, class := range []meta.BugClass{meta.Other, "AliasingViolation"} {
		c := caseOf("0111", class)

		assert.True(t, cl.Classify(c, result(sandbox.Crashed, "")).Matched, class)
		assert.True(t, cl.Classify(c, result(sandbox.Panicked, doubleDropPanic)).Matched, class)
		assert.False(t, cl.Classify(c, result(sandbox.Panicked, cleanPanic)).Matched, class)
		assert.False(t, cl.Classify(c, result(sandbox.TimedOut, "")).Matched, class)
	}
}

func TestClassifyAnyExpectedBugMatches(t *testing.T) {
	c := caseOf("0200", meta.PanicSafety, meta.InconsistencyAmplification)
	v := New().Classify(c, result(sandbox.TimedOut, ""))

	assert.True(t, v.Matched)
	assert.Equal(t, meta.InconsistencyAmplification, v.MatchedClass)
	assert.Equal(t, c.ExpectedBugs, v.ExpectedBugs)
	assert.Equal(t, sandbox.TimedOut, v.Observed)
}

func TestClassifyBuildFailureIsItsOwnVerdict(t *testing.T) {
	c := caseOf("0083", meta.PanicSafety)

	v := New().Classify(c, &sandbox.ExecutionResult{Outcome: sandbox.BuildFailed, Note: sandbox.NoteBuildTimeout})
	assert.False(t, v.Matched)
	assert.Equal(t, StatusBuildFailed, v.Status)
	assert.Contains(t, v.MismatchReason, sandbox.NoteBuildTimeout)

	v = New().Classify(c, &sandbox.ExecutionResult{Outcome: sandbox.BuildFailed, Inconclusive: true, Note: "isolation-failure: spawn: no such file"})
	assert.False(t, v.Matched)
	assert.Equal(t, StatusInconclusive, v.Status)
}

func TestClassifierZeroValueUsesDefaults(t *testing.T) {
	var cl Classifier
	v := cl.Classify(caseOf("0124", meta.InconsistencyAmplification), result(sandbox.TimedOut, ""))
	assert.True(t, v.Matched)
}

func TestCustomRules(t *testing.T) {
	cl := &Classifier{Rules: Rules{
		meta.PanicSafety: {ManifestCrash},
		meta.Other:       {},
	}}
	c := caseOf("0001", meta.PanicSafety)
	assert.True(t, cl.Classify(c, result(sandbox.Crashed, "")).Matched)
	assert.False(t, cl.Classify(c, result(sandbox.Panicked, doubleDropPanic)).Matched)
}

func TestRulesAccepted(t *testing.T) {
	r := DefaultRules()
	assert.Equal(t, []sandbox.OutcomeKind{sandbox.Crashed, sandbox.Panicked, sandbox.SanitizerFlagged, sandbox.TimedOut},
		r.Accepted(meta.InconsistencyAmplification))
	assert.Equal(t, []sandbox.OutcomeKind{sandbox.Panicked}, r.Accepted(meta.PanicSafety))
	assert.Equal(t, r.Accepted(meta.Other), r.Accepted("Unheard"))
}

func TestDiagnose(t *testing.T) {
	tests := []struct {
		name   string
		output string
		check  func(t *testing.T, d Diagnostics)
	}{
		{
			name:   "clean panic",
			output: cleanPanic,
			check: func(t *testing.T, d Diagnostics) {
				assert.Equal(t, 1, d.Panics)
				assert.False(t, d.PostConditionFailed())
				assert.Empty(t, d.Evidence())
			},
		},
		{
			name:   "assert_eq",
			output: "thread 'main' panicked at src/main.rs:9:5:\nassertion `left == right` failed\n  left: 1\n right: 2\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.True(t, d.AssertionFailed)
				assert.True(t, d.PostConditionFailed())
			},
		},
		{
			name:   "second panic",
			output: cleanPanic + "thread 'main' panicked at src/main.rs:12:9:\ndrop panicked\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.Equal(t, 2, d.Panics)
				assert.Equal(t, []string{"second panic"}, d.Evidence())
			},
		},
		{
			name:   "panicked while panicking",
			output: cleanPanic + "thread panicked while panicking. aborting.\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.True(t, d.NestedPanic)
			},
		},
		{
			name:   "repeated drop line without an identity",
			output: cleanPanic + "Dropped\nDropped\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.Empty(t, d.DuplicateDrops)
				assert.False(t, d.PostConditionFailed())
			},
		},
		{
			name:   "repeated drop of the same address",
			output: "drop node at 0x7ffd1c\ndrop node at 0x7ffd1c\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.Equal(t, []string{"drop node at 0x7ffd1c"}, d.DuplicateDrops)
			},
		},
		{
			name:   "distinct drops are fine",
			output: "Dropping 1\nDropping 2\n",
			check: func(t *testing.T, d Diagnostics) {
				assert.Empty(t, d.DuplicateDrops)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Diagnose(&sandbox.ExecutionResult{Output: tt.output}))
		})
	}
}

func TestDiagnoseDuplicateDropOrder(t *testing.T) {
	d := Diagnose(&sandbox.ExecutionResult{Output: "Dropping 2\nDropping 1\nDropping 1\nDropping 2\nDropping 1\n"})
	require.Equal(t, []string{"Dropping 1", "Dropping 2"}, d.DuplicateDrops)
}

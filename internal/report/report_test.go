package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/sandbox"
	"github.com/roach88/pocharness/internal/testutil"
)

const plainPanic = "thread 'main' panicked at src/main.rs:3:5:\nboom\n"

// runOf classifies each attempt with the default rules.
func runOf(t *testing.T, spec testutil.CaseSpec, attempts ...*sandbox.ExecutionResult) CaseRun {
	t.Helper()
	c := spec.Descriptor(t)
	run := CaseRun{Case: c}
	cl := classify.New()
	for i, res := range attempts {
		res.CaseID = c.ID
		res.Attempt = i + 1
		run.Attempts = append(run.Attempts, res)
		run.Verdicts = append(run.Verdicts, cl.Classify(c, res))
	}
	return run
}

func crashed(wall time.Duration) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{Outcome: sandbox.Crashed, ExitCode: -1, Signal: "SIGSEGV", WallTime: wall}
}

func panicked(output string, wall time.Duration) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{Outcome: sandbox.Panicked, ExitCode: 101, Output: output, WallTime: wall}
}

func skipped() *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{Outcome: sandbox.Completed, Skipped: true, Note: sandbox.NoteNoPoC}
}

// mixedRuns is one matched, one attested and one mismatched case.
func mixedRuns(t *testing.T) []CaseRun {
	t.Helper()
	return []CaseRun{
		runOf(t, testutil.CaseSpec{ID: "0001", Crate: "alpha", Analyzer: "SendSyncVariance",
			Classes: []meta.BugClass{meta.SendSyncVariance}}, crashed(250*time.Millisecond)),
		runOf(t, testutil.CaseSpec{ID: "0002", Crate: "beta", Analyzer: "UnsafeDestructor",
			Classes: []meta.BugClass{meta.Other}, NoPoC: true}, skipped()),
		runOf(t, testutil.CaseSpec{ID: "0003", Crate: "gamma", Analyzer: "UnsafeDataflow",
			Classes: []meta.BugClass{meta.PanicSafety}}, panicked(plainPanic, 40*time.Millisecond)),
	}
}

func TestAggregateMixedCorpus(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})

	assert.False(t, s.Pass)
	assert.Equal(t, []string{"0003"}, s.Failed)
	assert.Equal(t, Totals{Cases: 3, Matched: 1, Attested: 1, Mismatched: 1}, s.Totals)

	ids := make([]string, len(s.Cases))
	for i, cs := range s.Cases {
		ids[i] = cs.ID
	}
	assert.Equal(t, []string{"0001", "0002", "0003"}, ids)

	assert.True(t, s.Cases[1].Skipped)
	assert.False(t, s.Cases[1].Failed)
	assert.Equal(t, "-", s.Cases[1].ExitStatus)
	assert.Equal(t, classify.StatusMismatch, s.Cases[2].Status)
	assert.Contains(t, s.Cases[2].Reason, "observed Panicked without post-condition anomaly")
}

func TestAggregateAllMatchedPasses(t *testing.T) {
	runs := []CaseRun{
		runOf(t, testutil.CaseSpec{ID: "0001", Crate: "alpha", Classes: []meta.BugClass{meta.UninitExposure}},
			crashed(time.Millisecond)),
		runOf(t, testutil.CaseSpec{ID: "0002", Crate: "beta", NoPoC: true}, skipped()),
	}
	s := Aggregate(runs, Options{})

	assert.True(t, s.Pass)
	assert.Empty(t, s.Failed)
}

func TestAggregateGroupOrdering(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})

	want := []GroupCount{
		{Name: "SendSyncVariance", Total: 1, Matched: 1},
		{Name: "PanicSafety", Total: 1, Failed: 1},
		{Name: "Other", Total: 1, Attested: 1},
	}
	if diff := cmp.Diff(want, s.ByBugClass); diff != "" {
		t.Errorf("ByBugClass mismatch (-want +got):\n%s", diff)
	}

	want = []GroupCount{
		{Name: "SendSyncVariance", Total: 1, Matched: 1},
		{Name: "UnsafeDataflow", Total: 1, Failed: 1},
		{Name: "UnsafeDestructor", Total: 1, Attested: 1},
	}
	if diff := cmp.Diff(want, s.ByAnalyzer); diff != "" {
		t.Errorf("ByAnalyzer mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregateCaseInSeveralClassesCountsOnceEach(t *testing.T) {
	run := runOf(t, testutil.CaseSpec{ID: "0001", Crate: "alpha",
		Classes: []meta.BugClass{meta.SendSyncVariance, meta.UninitExposure}}, crashed(time.Millisecond))
	s := Aggregate([]CaseRun{run}, Options{})

	require.Len(t, s.ByBugClass, 2)
	assert.Equal(t, 1, s.ByBugClass[0].Matched)
	assert.Equal(t, 1, s.ByBugClass[1].Matched)
	assert.Equal(t, 1, s.Totals.Cases)
}

func TestAggregateFlakyAcrossAttempts(t *testing.T) {
	spec := testutil.CaseSpec{ID: "0036", Crate: "bunch", Classes: []meta.BugClass{meta.SendSyncVariance}}
	run := runOf(t, spec, crashed(time.Millisecond), &sandbox.ExecutionResult{Outcome: sandbox.Completed})
	s := Aggregate([]CaseRun{run}, Options{})

	cs := s.Cases[0]
	assert.True(t, cs.Flaky)
	assert.False(t, cs.Matched, "every attempt must match")
	assert.Equal(t, []sandbox.OutcomeKind{sandbox.Crashed, sandbox.Completed}, cs.Outcomes)
	assert.Equal(t, "exit 0", cs.ExitStatus, "details come from the first unmatched attempt")
	assert.True(t, cs.Failed)
	assert.Equal(t, 1, s.Totals.Flaky)
}

func TestAggregateStableAttemptsAreNotFlaky(t *testing.T) {
	spec := testutil.CaseSpec{ID: "0036", Crate: "bunch", Classes: []meta.BugClass{meta.SendSyncVariance}}
	run := runOf(t, spec, crashed(time.Millisecond), crashed(2*time.Millisecond))
	s := Aggregate([]CaseRun{run}, Options{})

	assert.False(t, s.Cases[0].Flaky)
	assert.True(t, s.Cases[0].Matched)
	assert.Equal(t, 3*time.Millisecond, s.Cases[0].WallTime)
}

func TestAggregateAllowlistAcceptsMismatch(t *testing.T) {
	al, err := ParseAllowlist([]byte("cases:\n  - id: \"0003\"\n    reason: racy\n"))
	require.NoError(t, err)

	s := Aggregate(mixedRuns(t), Options{Allowlist: al})

	assert.True(t, s.Pass)
	cs := s.Cases[2]
	assert.True(t, cs.AcceptedFlaky)
	assert.False(t, cs.Failed)
	assert.Equal(t, 1, s.Totals.AcceptedFlaky)
}

func TestAggregateAllowlistIgnoresMatchedCases(t *testing.T) {
	al, err := ParseAllowlist([]byte("cases:\n  - id: \"0001\"\n"))
	require.NoError(t, err)

	s := Aggregate(mixedRuns(t), Options{Allowlist: al})

	assert.False(t, s.Cases[0].AcceptedFlaky)
	assert.False(t, s.Pass, "0003 is still a failure")
}

func TestAggregateHistoryFlaky(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{HistoryFlaky: map[string]bool{"0001": true}})

	assert.True(t, s.Cases[0].Flaky)
	assert.True(t, s.Cases[0].Matched)
	assert.Equal(t, 1, s.ByBugClass[0].Flaky)
}

func TestAggregateNotExecuted(t *testing.T) {
	spec := testutil.CaseSpec{ID: "0001", Crate: "alpha"}
	s := Aggregate([]CaseRun{{Case: spec.Descriptor(t)}}, Options{})

	assert.Equal(t, classify.StatusInconclusive, s.Cases[0].Status)
	assert.Equal(t, 1, s.Totals.Inconclusive)
	assert.False(t, s.Pass)
}

func TestAggregateMalformed(t *testing.T) {
	me := &meta.MetadataError{Code: meta.ErrCodeNoMetadata, File: "0009-broken.rs", Message: "no metadata block"}
	s := Aggregate(nil, Options{Malformed: []*meta.MetadataError{me}})

	require.Len(t, s.Malformed, 1)
	assert.Equal(t, "0009-broken.rs", s.Malformed[0].File)
	assert.Equal(t, 1, s.Totals.Malformed)
	assert.True(t, s.Pass, "malformed cases are reported, not run")
}

func TestSummaryJSONGolden(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})
	s.RunID = "run-1"
	s.StartedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Duration = 2 * time.Second
	s.Repeat = 1

	data, err := json.MarshalIndent(s, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary_json", append(data, '\n'))
}

func TestParseAllowlist(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		wantIDs []string
	}{
		{name: "empty document", input: ""},
		{name: "entries", input: "cases:\n  - id: \"0036\"\n    reason: load\n  - id: \"0124\"\n", wantIDs: []string{"0036", "0124"}},
		{name: "missing id", input: "cases:\n  - reason: x\n", wantErr: "id is required"},
		{name: "duplicate", input: "cases:\n  - id: \"1\"\n  - id: \"1\"\n", wantErr: "listed twice"},
		{name: "unknown key", input: "cases:\n  - id: \"1\"\n    why: x\n", wantErr: "parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAllowlist([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			for _, id := range tt.wantIDs {
				assert.True(t, a.Contains(id), id)
			}
		})
	}
}

func TestAllowlistNilAndReason(t *testing.T) {
	var a *Allowlist
	assert.False(t, a.Contains("0036"))
	assert.Empty(t, a.Reason("0036"))

	path := filepath.Join(t.TempDir(), "flaky.yaml")
	testutil.WriteFile(t, path, "cases:\n  - id: \"0036\"\n    reason: data race\n")
	a, err := LoadAllowlist(path)
	require.NoError(t, err)
	assert.Equal(t, "data race", a.Reason("0036"))

	_, err = LoadAllowlist(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRenderText(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})
	s.Duration = 1500 * time.Millisecond

	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, s, TextOptions{}))
	out := buf.String()

	assert.Contains(t, out, "0001-alpha")
	assert.Contains(t, out, "SIGSEGV")
	assert.Contains(t, out, "Bug class")
	assert.Contains(t, out, "UnsafeDestructor")
	assert.Contains(t, out, "Unmatched cases:")
	assert.Contains(t, out, "3 cases: 1 matched, 1 attested, 1 mismatched, 0 build failed, 0 inconclusive in 1.5s")
	assert.True(t, strings.HasSuffix(out, "FAIL: 0003\n"))
	assert.NotContains(t, out, "\x1b[", "no styling without Color")
	assert.NotContains(t, out, "captured output")
}

func TestRenderTextVerboseShowsOutput(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})

	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, s, TextOptions{Verbose: true}))
	out := buf.String()

	assert.Contains(t, out, "captured output")
	assert.Contains(t, out, "      boom\n")
}

func TestRenderTextPass(t *testing.T) {
	run := runOf(t, testutil.CaseSpec{ID: "0001", Crate: "alpha", NoPoC: true}, skipped())
	s := Aggregate([]CaseRun{run}, Options{})

	var buf bytes.Buffer
	require.NoError(t, RenderText(&buf, s, TextOptions{}))

	assert.True(t, strings.HasSuffix(buf.String(), "PASS\n"))
	assert.NotContains(t, buf.String(), "Unmatched cases:")
}

func TestRenderMarkdown(t *testing.T) {
	me := &meta.MetadataError{Code: meta.ErrCodeTOML, File: "0009-broken.rs", Message: "line 2\nbad key"}
	s := Aggregate(mixedRuns(t), Options{Malformed: []*meta.MetadataError{me}})

	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, s))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Corpus verification: FAIL\n"))
	assert.Contains(t, out, "**Failed:** 0003")
	assert.Contains(t, out, "## Cases")
	assert.Contains(t, out, "## By bug class")
	assert.Contains(t, out, "## By analyzer")
	assert.Contains(t, out, "| 0001 |")
	assert.Contains(t, out, "- `0009-broken.rs` E_TOML: line 2 bad key")
}

func TestWriteMetrics(t *testing.T) {
	s := Aggregate(mixedRuns(t), Options{})
	s.Duration = 2 * time.Second

	path := filepath.Join(t.TempDir(), "pocharness.prom")
	require.NoError(t, WriteMetrics(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `pocharness_cases{status="matched"} 1`)
	assert.Contains(t, out, `pocharness_cases{status="mismatch"} 1`)
	assert.Contains(t, out, `pocharness_bug_class_cases{bug_class="PanicSafety",result="failed"} 1`)
	assert.Contains(t, out, "pocharness_pass 0")
	assert.Contains(t, out, "pocharness_run_duration_seconds 2")
}

package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/report"
	"github.com/roach88/pocharness/internal/sandbox"
	"github.com/roach88/pocharness/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recordOutcomes stores one run with one attempt per case.
func recordOutcomes(t *testing.T, s *Store, runID string, outcomes map[string]sandbox.OutcomeKind) {
	t.Helper()
	r := Run{ID: runID, StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Repeat: 1, Cases: len(outcomes), Pass: true}
	for id, o := range outcomes {
		r.Attempts = append(r.Attempts, Attempt{CaseID: id, Attempt: 1, Outcome: o, Status: classify.StatusMatched})
	}
	require.NoError(t, s.RecordRun(context.Background(), r))
}

func TestOpenCreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	mode, err := s.pragma("journal_mode")
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)

	fk, err := s.pragma("foreign_keys")
	require.NoError(t, err)
	assert.Equal(t, "1", fk)

	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(currentSchemaVersion), version)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := Open(path)
	require.NoError(t, err)
	recordOutcomes(t, s1, "run-1", map[string]sandbox.OutcomeKind{"0036": sandbox.Crashed})
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	runs, err := s2.Runs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestRecordRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

	err := s.RecordRun(ctx, Run{
		ID: "run-1", StartedAt: started, Duration: 3 * time.Second, Repeat: 2, Cases: 1, Pass: false,
		Attempts: []Attempt{
			{CaseID: "0036", Attempt: 1, Outcome: sandbox.Crashed, Status: classify.StatusMatched, ExitStatus: "SIGSEGV"},
			{CaseID: "0036", Attempt: 2, Outcome: sandbox.Completed, Status: classify.StatusMismatch, ExitStatus: "exit 0"},
		},
	})
	require.NoError(t, err)

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Equal(t, 3*time.Second, got.Duration)
	assert.Equal(t, 2, got.Repeat)
	assert.False(t, got.Pass)
}

func TestRecordRunRequiresID(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordRun(context.Background(), Run{})
	assert.Error(t, err)
}

func TestRecordRunDuplicateIDRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recordOutcomes(t, s, "run-1", map[string]sandbox.OutcomeKind{"0036": sandbox.Crashed})

	err := s.RecordRun(ctx, Run{ID: "run-1", StartedAt: time.Now(),
		Attempts: []Attempt{{CaseID: "0124", Attempt: 1, Outcome: sandbox.Panicked}}})
	require.Error(t, err)

	cases, err := s.Cases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "0036", cases[0].CaseID)
}

func TestFlakyCasesAcrossRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recordOutcomes(t, s, "run-1", map[string]sandbox.OutcomeKind{"0036": sandbox.Crashed, "0124": sandbox.Panicked})
	recordOutcomes(t, s, "run-2", map[string]sandbox.OutcomeKind{"0036": sandbox.Completed, "0124": sandbox.Panicked})
	recordOutcomes(t, s, "run-3", map[string]sandbox.OutcomeKind{"0036": sandbox.Completed, "0124": sandbox.Panicked})

	flaky, err := s.FlakyCases(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"0036": true}, flaky)

	flaky, err = s.FlakyCases(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, flaky, "the last two runs agree")
}

func TestFlakyCasesWithinOneRun(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordRun(context.Background(), Run{ID: "run-1", StartedAt: time.Now(), Attempts: []Attempt{
		{CaseID: "0036", Attempt: 1, Outcome: sandbox.Crashed},
		{CaseID: "0036", Attempt: 2, Outcome: sandbox.TimedOut},
	}})
	require.NoError(t, err)

	flaky, err := s.FlakyCases(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, flaky["0036"])
}

func TestCasesHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recordOutcomes(t, s, "run-1", map[string]sandbox.OutcomeKind{"0124": sandbox.Panicked, "0036": sandbox.Crashed})
	recordOutcomes(t, s, "run-2", map[string]sandbox.OutcomeKind{"0124": sandbox.Panicked, "0036": sandbox.Completed})

	cases, err := s.Cases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cases, 2)

	assert.Equal(t, "0036", cases[0].CaseID)
	assert.Equal(t, []sandbox.OutcomeKind{sandbox.Crashed, sandbox.Completed}, cases[0].Outcomes)
	assert.True(t, cases[0].Flaky)

	assert.Equal(t, "0124", cases[1].CaseID)
	assert.False(t, cases[1].Flaky)
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	for i := 1; i <= 3; i++ {
		recordOutcomes(t, s, fmt.Sprintf("run-%d", i), nil)
	}

	runs, err := s.Runs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
}

func TestPruneCascadesAttempts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recordOutcomes(t, s, "run-1", map[string]sandbox.OutcomeKind{"0036": sandbox.Crashed})
	recordOutcomes(t, s, "run-2", map[string]sandbox.OutcomeKind{"0036": sandbox.Completed})

	n, err := s.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var attempts int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM attempts").Scan(&attempts))
	assert.Equal(t, 1, attempts)

	flaky, err := s.FlakyCases(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, flaky)

	_, err = s.Prune(ctx, -1)
	assert.Error(t, err)
}

func TestNewRunFromSummary(t *testing.T) {
	spec := testutil.CaseSpec{ID: "0036", Crate: "bunch", Classes: []meta.BugClass{meta.SendSyncVariance}}
	c := spec.Descriptor(t)
	res := []*sandbox.ExecutionResult{
		{CaseID: "0036", Attempt: 1, Outcome: sandbox.Crashed, ExitCode: -1, Signal: "SIGSEGV", WallTime: time.Second},
		{CaseID: "0036", Attempt: 2, Outcome: sandbox.Completed, WallTime: 2 * time.Second},
	}
	cl := classify.New()
	cr := report.CaseRun{Case: c, Attempts: res, Verdicts: []classify.Verdict{cl.Classify(c, res[0]), cl.Classify(c, res[1])}}
	sum := report.Aggregate([]report.CaseRun{cr}, report.Options{})
	sum.RunID = "run-1"
	sum.Repeat = 2

	r := NewRun(sum, []report.CaseRun{cr})

	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, 1, r.Cases)
	assert.False(t, r.Pass)
	require.Len(t, r.Attempts, 2)
	assert.Equal(t, Attempt{CaseID: "0036", Attempt: 1, Outcome: sandbox.Crashed, Status: classify.StatusMatched,
		ExitStatus: "SIGSEGV", WallTime: time.Second}, r.Attempts[0])
	assert.Equal(t, classify.StatusMismatch, r.Attempts[1].Status)
}

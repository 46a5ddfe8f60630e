// Package report aggregates per-case verdicts into a corpus summary and
// renders it.
//
// The summary lists every case in registry order, whatever order the cases
// finished in, so two runs of the same corpus render identically apart from
// timings.
package report

import (
	"sort"
	"time"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/sandbox"
)

// CaseRun is everything observed for one case: one result and one verdict
// per attempt.
type CaseRun struct {
	Case     *meta.CaseDescriptor
	Attempts []*sandbox.ExecutionResult
	Verdicts []classify.Verdict
}

// CaseSummary is one case's line in the report.
type CaseSummary struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Target     string          `json:"target"`
	BugClasses []meta.BugClass `json:"bug_classes"`
	Analyzers  []string        `json:"analyzers"`

	Status   classify.Status       `json:"status"`
	Matched  bool                  `json:"matched"`
	Skipped  bool                  `json:"skipped,omitempty"`
	Outcomes []sandbox.OutcomeKind `json:"outcomes"`
	Reason   string                `json:"reason,omitempty"`
	Evidence []string              `json:"evidence,omitempty"`

	ExitStatus string        `json:"exit_status"`
	WallTime   time.Duration `json:"wall_time_ns"`
	Truncated  bool          `json:"truncated,omitempty"`
	Output     string        `json:"-"`

	// Flaky is set when attempts disagreed on the outcome kind, or when run
	// history shows the outcome changing across runs.
	Flaky bool `json:"flaky,omitempty"`

	// AcceptedFlaky is set for an unmatched case on the flaky allowlist.
	AcceptedFlaky bool `json:"accepted_flaky,omitempty"`

	// Failed means this case makes the run fail.
	Failed bool `json:"failed,omitempty"`
}

// GroupCount tallies cases sharing a bug class or analyzer. A case with
// several classes or analyzers counts once in each group.
type GroupCount struct {
	Name     string `json:"name"`
	Total    int    `json:"total"`
	Matched  int    `json:"matched"`
	Attested int    `json:"attested"`
	Failed   int    `json:"failed"`
	Flaky    int    `json:"flaky"`
}

// Totals are corpus-wide counts.
type Totals struct {
	Cases         int `json:"cases"`
	Matched       int `json:"matched"`
	Attested      int `json:"attested"`
	Mismatched    int `json:"mismatched"`
	BuildFailed   int `json:"build_failed"`
	Inconclusive  int `json:"inconclusive"`
	Flaky         int `json:"flaky"`
	AcceptedFlaky int `json:"accepted_flaky"`
	Malformed     int `json:"malformed"`
}

// MalformedCase is a case file excluded for bad metadata.
type MalformedCase struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Summary is the corpus-level result.
type Summary struct {
	RunID     string        `json:"run_id,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Repeat    int           `json:"repeat"`

	Cases      []CaseSummary   `json:"cases"`
	ByBugClass []GroupCount    `json:"by_bug_class"`
	ByAnalyzer []GroupCount    `json:"by_analyzer"`
	Malformed  []MalformedCase `json:"malformed,omitempty"`
	Totals     Totals          `json:"totals"`

	// Pass is false if any non-skipped case did not match and is not an
	// accepted flaky case. Failed lists those case ids in order.
	Pass   bool     `json:"pass"`
	Failed []string `json:"failed,omitempty"`
}

// Options tune aggregation.
type Options struct {
	// Allowlist names known-flaky cases whose mismatch does not fail the run.
	Allowlist *Allowlist

	// HistoryFlaky is the set of case ids whose outcome changed across
	// previous runs.
	HistoryFlaky map[string]bool

	Malformed []*meta.MetadataError
}

// Aggregate builds the summary. runs must already be in registry order.
func Aggregate(runs []CaseRun, opts Options) *Summary {
	s := &Summary{Pass: true, Cases: make([]CaseSummary, 0, len(runs))}

	classGroups := newGroups()
	analyzerGroups := newGroups()

	for _, run := range runs {
		cs := summarizeCase(run)
		if opts.HistoryFlaky[cs.ID] {
			cs.Flaky = true
		}
		if !cs.Matched && !cs.Skipped && opts.Allowlist.Contains(cs.ID) {
			cs.AcceptedFlaky = true
		}
		cs.Failed = !cs.Matched && !cs.Skipped && !cs.AcceptedFlaky
		if cs.Failed {
			s.Pass = false
			s.Failed = append(s.Failed, cs.ID)
		}

		s.Totals.add(cs)
		for _, class := range cs.BugClasses {
			classGroups.add(string(class), cs)
		}
		for _, a := range cs.Analyzers {
			analyzerGroups.add(a, cs)
		}
		s.Cases = append(s.Cases, cs)
	}

	for _, me := range opts.Malformed {
		s.Malformed = append(s.Malformed, MalformedCase{File: me.File, Code: string(me.Code), Message: me.Message})
	}
	s.Totals.Malformed = len(s.Malformed)

	s.ByBugClass = classGroups.sorted(bugClassRank)
	s.ByAnalyzer = analyzerGroups.sorted(nil)
	return s
}

func summarizeCase(run CaseRun) CaseSummary {
	c := run.Case
	cs := CaseSummary{
		ID:         c.ID,
		Name:       c.Name,
		Target:     c.Target.String(),
		BugClasses: c.BugClasses(),
		Analyzers:  c.Analyzers(),
	}
	if len(run.Verdicts) == 0 {
		cs.Status = classify.StatusInconclusive
		cs.Reason = "case was not executed"
		return cs
	}

	// The case matches only if every attempt matched. The first attempt that
	// did not match supplies the status, reason and exit details.
	cs.Matched = true
	pick := 0
	for i, v := range run.Verdicts {
		if !v.Matched {
			cs.Matched = false
			pick = i
			break
		}
	}
	v := run.Verdicts[pick]
	cs.Status = v.Status
	cs.Reason = v.MismatchReason
	cs.Evidence = v.Evidence

	seen := make(map[sandbox.OutcomeKind]bool)
	for _, res := range run.Attempts {
		cs.Outcomes = append(cs.Outcomes, res.Outcome)
		seen[res.Outcome] = true
		cs.WallTime += res.WallTime
		cs.Truncated = cs.Truncated || res.Truncated
	}
	cs.Flaky = len(seen) > 1

	if pick < len(run.Attempts) {
		res := run.Attempts[pick]
		cs.Skipped = res.Skipped
		cs.ExitStatus = res.ExitStatus()
		cs.Output = res.Output
	}
	return cs
}

func (t *Totals) add(cs CaseSummary) {
	t.Cases++
	switch {
	case cs.Skipped:
		t.Attested++
	case cs.Matched:
		t.Matched++
	case cs.Status == classify.StatusBuildFailed:
		t.BuildFailed++
	case cs.Status == classify.StatusInconclusive:
		t.Inconclusive++
	default:
		t.Mismatched++
	}
	if cs.Flaky {
		t.Flaky++
	}
	if cs.AcceptedFlaky {
		t.AcceptedFlaky++
	}
}

type groups struct {
	order []string
	byKey map[string]*GroupCount
}

func newGroups() *groups {
	return &groups{byKey: make(map[string]*GroupCount)}
}

func (g *groups) add(name string, cs CaseSummary) {
	gc, ok := g.byKey[name]
	if !ok {
		gc = &GroupCount{Name: name}
		g.byKey[name] = gc
		g.order = append(g.order, name)
	}
	gc.Total++
	switch {
	case cs.Skipped:
		gc.Attested++
	case cs.Matched:
		gc.Matched++
	case cs.Failed:
		gc.Failed++
	}
	if cs.Flaky {
		gc.Flaky++
	}
}

// sorted returns the groups ordered by rank, then name.
func (g *groups) sorted(rank func(string) int) []GroupCount {
	out := make([]GroupCount, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.byKey[name])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank != nil {
			ri, rj := rank(out[i].Name), rank(out[j].Name)
			if ri != rj {
				return ri < rj
			}
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// bugClassRank orders the recognized classes first, in their listed order.
func bugClassRank(name string) int {
	for i, c := range meta.KnownBugClasses {
		if string(c) == name {
			return i
		}
	}
	return len(meta.KnownBugClasses)
}

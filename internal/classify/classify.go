// Package classify decides whether an execution result matches the bug a
// case declares.
//
// The same unsoundness manifests differently across platforms and
// toolchains: a data race may crash, trip a sanitizer or corrupt silently.
// Each bug class therefore maps to a set of accepted manifestations rather
// than one expected outcome, and a case matches when its observed outcome is
// accepted for at least one of its expected bugs.
package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/sandbox"
)

// Manifestation is one observable way a bug class may show up.
type Manifestation string

const (
	// ManifestCrash is an abnormal termination: a fatal signal or the memory
	// ceiling.
	ManifestCrash Manifestation = "Crashed"

	// ManifestSanitizer is a sanitizer error report.
	ManifestSanitizer Manifestation = "SanitizerFlagged"

	// ManifestSelfAssertedCorruption is a panic raised by the case's own
	// assertion that the corruption happened.
	ManifestSelfAssertedCorruption Manifestation = "Panicked (case assertion failed)"

	// ManifestPanicAnomaly is a panic followed by a post-condition anomaly:
	// a failed assertion, a second panic, a double free or a repeated drop.
	ManifestPanicAnomaly Manifestation = "Panicked (post-condition anomaly)"

	// ManifestUnboundedWork is the wall-clock timeout of a case that loops
	// forever.
	ManifestUnboundedWork Manifestation = "TimedOut"
)

func (m Manifestation) accepts(res *sandbox.ExecutionResult, d Diagnostics) bool {
	switch m {
	case ManifestCrash:
		return res.Outcome == sandbox.Crashed
	case ManifestSanitizer:
		return res.Outcome == sandbox.SanitizerFlagged
	case ManifestSelfAssertedCorruption:
		return res.Outcome == sandbox.Panicked && d.AssertionFailed
	case ManifestPanicAnomaly:
		return res.Outcome == sandbox.Panicked && d.PostConditionFailed()
	case ManifestUnboundedWork:
		return res.Outcome == sandbox.TimedOut
	}
	return false
}

// Rules maps each bug class to its accepted manifestations. Classes missing
// from the map use the Other entry.
type Rules map[meta.BugClass][]Manifestation

// DefaultRules returns the standard allowed-outcome table.
func DefaultRules() Rules {
	ub := []Manifestation{ManifestCrash, ManifestSanitizer, ManifestSelfAssertedCorruption}
	return Rules{
		meta.SendSyncVariance:           ub,
		meta.UninitExposure:             ub,
		meta.InconsistencyAmplification: append(append([]Manifestation(nil), ub...), ManifestUnboundedWork),
		meta.PanicSafety:                {ManifestPanicAnomaly},
		meta.Other:                      {ManifestCrash, ManifestSanitizer, ManifestPanicAnomaly},
	}
}

func (r Rules) forClass(class meta.BugClass) []Manifestation {
	if m, ok := r[class]; ok {
		return m
	}
	return r[meta.Other]
}

// Status is the kind of verdict.
type Status string

const (
	StatusMatched      Status = "matched"
	StatusAttested     Status = "attested"
	StatusMismatch     Status = "mismatch"
	StatusBuildFailed  Status = "build-failed"
	StatusInconclusive Status = "inconclusive"
)

// Verdict is the matched/not-matched judgement for one case.
type Verdict struct {
	CaseID         string              `json:"case_id"`
	Matched        bool                `json:"matched"`
	Status         Status              `json:"status"`
	MismatchReason string              `json:"mismatch_reason,omitempty"`
	ExpectedBugs   []meta.ExpectedBug  `json:"expected_bugs"`
	Observed       sandbox.OutcomeKind `json:"observed"`

	// MatchedClass and MatchedBy say which expected bug was confirmed and how.
	MatchedClass meta.BugClass `json:"matched_class,omitempty"`
	MatchedBy    Manifestation `json:"matched_by,omitempty"`

	Evidence []string `json:"evidence,omitempty"`
}

// Classifier applies Rules to execution results. The zero value uses
// DefaultRules.
type Classifier struct {
	Rules Rules
}

// New returns a classifier with the default rules.
func New() *Classifier {
	return &Classifier{Rules: DefaultRules()}
}

// Classify compares res against c's expected bugs. Rules apply in order:
// skipped no-PoC cases are attested; build failures and isolation failures
// get verdicts of their own; otherwise the first expected bug whose class
// accepts the observed manifestation matches.
func (cl *Classifier) Classify(c *meta.CaseDescriptor, res *sandbox.ExecutionResult) Verdict {
	rules := cl.Rules
	if rules == nil {
		rules = DefaultRules()
	}

	v := Verdict{
		CaseID:       c.ID,
		ExpectedBugs: c.ExpectedBugs,
		Observed:     res.Outcome,
	}

	switch {
	case res.Skipped:
		v.Matched = true
		v.Status = StatusAttested
		return v
	case res.Inconclusive:
		v.Status = StatusInconclusive
		v.MismatchReason = "harness could not isolate the case: " + res.Note
		return v
	case res.Outcome == sandbox.BuildFailed:
		v.Status = StatusBuildFailed
		v.MismatchReason = "case did not build"
		if res.Note != "" {
			v.MismatchReason += " (" + res.Note + ")"
		}
		return v
	}

	d := Diagnose(res)
	v.Evidence = d.Evidence()

	for _, class := range c.BugClasses() {
		for _, m := range rules.forClass(class) {
			if m.accepts(res, d) {
				v.Matched = true
				v.Status = StatusMatched
				v.MatchedClass = class
				v.MatchedBy = m
				return v
			}
		}
	}

	v.Status = StatusMismatch
	v.MismatchReason = mismatchReason(rules, c, res, d)
	return v
}

// mismatchReason names the expected manifestations and what was observed.
func mismatchReason(rules Rules, c *meta.CaseDescriptor, res *sandbox.ExecutionResult, d Diagnostics) string {
	var expected []string
	for _, class := range c.BugClasses() {
		var ms []string
		for _, m := range rules.forClass(class) {
			ms = append(ms, string(m))
		}
		expected = append(expected, fmt.Sprintf("%s: %s", class, strings.Join(ms, " | ")))
	}
	if len(expected) == 0 {
		expected = append(expected, "no expected bugs declared")
	}

	observed := string(res.Outcome)
	if res.Outcome == sandbox.Panicked && !d.PostConditionFailed() {
		observed += " without post-condition anomaly"
	}
	if res.Note != "" {
		observed += " (" + res.Note + ")"
	}
	return fmt.Sprintf("expected %s; observed %s", strings.Join(expected, "; "), observed)
}

// Accepted returns the sorted outcome kinds that can ever match class. It is
// used in reports to explain the table.
func (r Rules) Accepted(class meta.BugClass) []sandbox.OutcomeKind {
	set := make(map[sandbox.OutcomeKind]bool)
	for _, m := range r.forClass(class) {
		switch m {
		case ManifestCrash:
			set[sandbox.Crashed] = true
		case ManifestSanitizer:
			set[sandbox.SanitizerFlagged] = true
		case ManifestSelfAssertedCorruption, ManifestPanicAnomaly:
			set[sandbox.Panicked] = true
		case ManifestUnboundedWork:
			set[sandbox.TimedOut] = true
		}
	}
	out := make([]sandbox.OutcomeKind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

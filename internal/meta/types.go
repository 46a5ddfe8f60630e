package meta

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// BugClass is the coarse category of unsoundness a case is filed under.
// The set is open: unknown classes parse fine and are treated like Other by
// the classifier.
type BugClass string

// Recognized bug classes.
const (
	SendSyncVariance           BugClass = "SendSyncVariance"
	PanicSafety                BugClass = "PanicSafety"
	UninitExposure             BugClass = "UninitExposure"
	InconsistencyAmplification BugClass = "InconsistencyAmplification"
	Other                      BugClass = "Other"
)

// KnownBugClasses lists the recognized classes in report order.
var KnownBugClasses = []BugClass{
	SendSyncVariance,
	PanicSafety,
	UninitExposure,
	InconsistencyAmplification,
	Other,
}

// foldCase returns the case-folded form of s. A Caser is stateful, so one is
// made per call.
func foldCase(s string) string {
	return cases.Fold().String(s)
}

// ParseBugClass resolves s to a recognized class, ignoring case.
// Unrecognized names are returned verbatim together with an error so callers
// can decide whether to accept an extension class.
func ParseBugClass(s string) (BugClass, error) {
	want := foldCase(strings.TrimSpace(s))
	for _, c := range KnownBugClasses {
		if foldCase(string(c)) == want {
			return c, nil
		}
	}
	return BugClass(strings.TrimSpace(s)), fmt.Errorf("unrecognized bug class %q", s)
}

// Known reports whether c is one of KnownBugClasses.
func (c BugClass) Known() bool {
	for _, k := range KnownBugClasses {
		if k == c {
			return true
		}
	}
	return false
}

// SameAnalyzer compares analyzer names case-insensitively.
func SameAnalyzer(a, b string) bool {
	return foldCase(a) == foldCase(b)
}

// Target identifies the library version a case is built against.
type Target struct {
	Crate          string `json:"crate"`
	Version        string `json:"version"`
	IndexedVersion string `json:"indexed_version,omitempty"`
}

// Requirement returns the exact-version requirement used in Cargo.toml.
func (t Target) Requirement() string {
	return "=" + t.Version
}

func (t Target) String() string {
	return t.Crate + "@" + t.Version
}

// Report carries the upstream disclosure details.
type Report struct {
	IssueURL   string `json:"issue_url"`
	IssueDate  string `json:"issue_date,omitempty"` // YYYY-MM-DD
	RustsecID  string `json:"rustsec_id,omitempty"`
	RustsecURL string `json:"rustsec_url,omitempty"`
	UniqueBugs int    `json:"unique_bugs,omitempty"`
	Title      string `json:"title,omitempty"`
}

// ExpectedBug is one analyzer finding the case declares.
type ExpectedBug struct {
	Analyzer  string   `json:"analyzer"`
	BugClass  BugClass `json:"bug_class"`
	Count     int      `json:"count,omitempty"`
	Locations []string `json:"locations,omitempty"`
}

// EffectiveCount is Count, or 1 when the case did not declare one.
func (b ExpectedBug) EffectiveCount() int {
	if b.Count < 1 {
		return 1
	}
	return b.Count
}

// ExecutionHint tells the runner how (and whether) to execute a case.
type ExecutionHint struct {
	// NoPoC marks a metadata-only case: the bug was reported without a
	// reproduction and must never be executed.
	NoPoC bool `json:"no_poc,omitempty"`

	Toolchain  string     `json:"toolchain,omitempty"`
	CargoFlags []string   `json:"cargo_flags,omitempty"`
	Analyzers  []string   `json:"analyzers,omitempty"`
	BugClasses []BugClass `json:"bug_classes,omitempty"`
	Peers      []Target   `json:"peers,omitempty"`
}

// CaseDescriptor is the parsed, immutable description of one case.
type CaseDescriptor struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Path         string        `json:"path"`
	Target       Target        `json:"target"`
	Report       Report        `json:"report"`
	ExpectedBugs []ExpectedBug `json:"expected_bugs"`
	Hint         ExecutionHint `json:"execution_hint"`

	// Source is the full case file, metadata included. It is what gets
	// compiled; Body is the part after the metadata block.
	Source string `json:"-"`
	Body   string `json:"-"`
}

// BugClasses returns the distinct declared classes in declaration order.
func (c *CaseDescriptor) BugClasses() []BugClass {
	var out []BugClass
	seen := make(map[BugClass]bool)
	for _, b := range c.ExpectedBugs {
		if !seen[b.BugClass] {
			seen[b.BugClass] = true
			out = append(out, b.BugClass)
		}
	}
	return out
}

// Analyzers returns the distinct declared analyzers in declaration order.
func (c *CaseDescriptor) Analyzers() []string {
	var out []string
	seen := make(map[string]bool)
	for _, b := range c.ExpectedBugs {
		if !seen[b.Analyzer] {
			seen[b.Analyzer] = true
			out = append(out, b.Analyzer)
		}
	}
	return out
}

// HasBugClass reports whether any expected bug is filed under class.
func (c *CaseDescriptor) HasBugClass(class BugClass) bool {
	for _, b := range c.ExpectedBugs {
		if b.BugClass == class {
			return true
		}
	}
	return false
}

// HasAnalyzer reports whether any expected bug was found by analyzer.
func (c *CaseDescriptor) HasAnalyzer(analyzer string) bool {
	for _, b := range c.ExpectedBugs {
		if SameAnalyzer(b.Analyzer, analyzer) {
			return true
		}
	}
	return false
}

package classify

import (
	"regexp"
	"strings"

	"github.com/roach88/pocharness/internal/sandbox"
)

var (
	assertionRe = regexp.MustCompile("assertion failed|assertion `[^`]*` failed")
	dropLineRe  = regexp.MustCompile(`(?i)\bdrop(s|ping|ped)?\b`)
	// identityRe finds the value a drop detector names, e.g. "Dropping 1".
	identityRe  = regexp.MustCompile(`\b(0x[0-9a-fA-F]+|\d+)\b`)
)

var nestedPanicMarkers = []string{
	"panicked while panicking",
	"panic in a destructor during cleanup",
	"thread caused non-unwinding panic",
}

var doubleFreeMarkers = []string{
	"double free",
	"free(): invalid pointer",
	"free(): invalid size",
	"corrupted double-linked list",
	"malloc(): corrupted",
}

// Diagnostics are the anomalies found in a case's captured output. They are
// the case's own evidence: the classifier trusts what the case printed or
// asserted and does not re-derive invariants.
type Diagnostics struct {
	Panics            int      `json:"panics,omitempty"`
	AssertionFailed   bool     `json:"assertion_failed,omitempty"`
	NestedPanic       bool     `json:"nested_panic,omitempty"`
	DoubleFree        bool     `json:"double_free,omitempty"`
	DuplicateDrops    []string `json:"duplicate_drops,omitempty"`
	AbortedAfterPanic bool     `json:"aborted_after_panic,omitempty"`
}

// Diagnose scans the result's output for post-condition anomalies.
func Diagnose(res *sandbox.ExecutionResult) Diagnostics {
	d := Diagnostics{
		Panics:            strings.Count(res.Output, "panicked at"),
		AssertionFailed:   assertionRe.MatchString(res.Output),
		AbortedAfterPanic: res.Note == sandbox.NoteAbortedAfterPanic,
	}
	for _, m := range nestedPanicMarkers {
		if strings.Contains(res.Output, m) {
			d.NestedPanic = true
			break
		}
	}
	for _, m := range doubleFreeMarkers {
		if strings.Contains(res.Output, m) {
			d.DoubleFree = true
			break
		}
	}
	d.DuplicateDrops = duplicateDropLines(res.Output)
	return d
}

// duplicateDropLines returns drop-detector lines printed more than once, in
// order of their second appearance. Only lines naming the dropped value by a
// number or address count: two distinct objects that each print "Dropped"
// are not a double drop.
func duplicateDropLines(output string) []string {
	seen := make(map[string]int)
	var dups []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !dropLineRe.MatchString(line) || !identityRe.MatchString(line) {
			continue
		}
		seen[line]++
		if seen[line] == 2 {
			dups = append(dups, line)
		}
	}
	return dups
}

// PostConditionFailed reports whether the run shows a secondary anomaly
// beyond a single clean panic. An abort after the panic is not one by itself:
// a case built with panic=abort aborts on its first panic.
func (d Diagnostics) PostConditionFailed() bool {
	return d.AssertionFailed ||
		d.Panics > 1 ||
		d.NestedPanic ||
		d.DoubleFree ||
		len(d.DuplicateDrops) > 0
}

// Evidence lists the anomalies in a stable order for reports.
func (d Diagnostics) Evidence() []string {
	var ev []string
	if d.AssertionFailed {
		ev = append(ev, "assertion failed")
	}
	if d.Panics > 1 {
		ev = append(ev, "second panic")
	}
	if d.NestedPanic {
		ev = append(ev, "panic while panicking")
	}
	if d.DoubleFree {
		ev = append(ev, "double free")
	}
	for _, line := range d.DuplicateDrops {
		ev = append(ev, "repeated drop: "+line)
	}
	if d.AbortedAfterPanic && len(ev) > 0 {
		ev = append(ev, "aborted after panic")
	}
	return ev
}

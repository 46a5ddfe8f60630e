// Package registry indexes the parsed cases of a corpus.
//
// A Registry is built once from the full set of descriptors, rejects
// duplicate case ids, and is read-only afterwards. Enumeration order is
// declaration order (case id, then file name) so that repeated runs report
// cases identically regardless of how they were executed.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/pocharness/internal/meta"
)

// DuplicateCaseIDError is returned when two case files resolve to the same id.
// It aborts the whole run: corpus integrity is violated.
type DuplicateCaseIDError struct {
	ID    string
	Paths []string
}

func (e *DuplicateCaseIDError) Error() string {
	return fmt.Sprintf("duplicate case id %s: %s", e.ID, strings.Join(e.Paths, ", "))
}

// IsDuplicateCaseID returns true if err is (or wraps) a DuplicateCaseIDError.
func IsDuplicateCaseID(err error) bool {
	var de *DuplicateCaseIDError
	return errors.As(err, &de)
}

// Registry is the immutable index of cases. It is safe for concurrent reads.
type Registry struct {
	cases []*meta.CaseDescriptor
	byID  map[string]*meta.CaseDescriptor
}

// New builds a registry from parsed descriptors. The result does not depend
// on the order of cases.
func New(cases []*meta.CaseDescriptor) (*Registry, error) {
	sorted := make([]*meta.CaseDescriptor, len(cases))
	copy(sorted, cases)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Path < sorted[j].Path
	})

	r := &Registry{
		cases: sorted,
		byID:  make(map[string]*meta.CaseDescriptor, len(sorted)),
	}
	for _, c := range sorted {
		if _, dup := r.byID[c.ID]; !dup {
			r.byID[c.ID] = c
			continue
		}
		de := &DuplicateCaseIDError{ID: c.ID}
		for _, other := range sorted {
			if other.ID == c.ID {
				de.Paths = append(de.Paths, other.Path)
			}
		}
		return nil, de
	}
	return r, nil
}

// Len returns the number of cases.
func (r *Registry) Len() int {
	return len(r.cases)
}

// All returns every case in declaration order. The slice is a copy.
func (r *Registry) All() []*meta.CaseDescriptor {
	out := make([]*meta.CaseDescriptor, len(r.cases))
	copy(out, r.cases)
	return out
}

// Get looks up a case by id.
func (r *Registry) Get(id string) (*meta.CaseDescriptor, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// ByBugClass returns the cases that declare class, in declaration order.
func (r *Registry) ByBugClass(class meta.BugClass) []*meta.CaseDescriptor {
	var out []*meta.CaseDescriptor
	for _, c := range r.cases {
		if c.HasBugClass(class) {
			out = append(out, c)
		}
	}
	return out
}

// ByAnalyzer returns the cases with a finding from analyzer (case-insensitive).
func (r *Registry) ByAnalyzer(analyzer string) []*meta.CaseDescriptor {
	var out []*meta.CaseDescriptor
	for _, c := range r.cases {
		if c.HasAnalyzer(analyzer) {
			out = append(out, c)
		}
	}
	return out
}

// TargetRef is one declared crate@version pair and the cases pinned to it.
type TargetRef struct {
	Target  meta.Target
	CaseIDs []string
}

// Targets resolves the distinct target/version pairs, sorted by crate then
// version. The same library may appear under several cases.
func (r *Registry) Targets() []TargetRef {
	idx := make(map[string]int)
	var out []TargetRef
	for _, c := range r.cases {
		key := c.Target.Crate + "@" + c.Target.Version
		i, ok := idx[key]
		if !ok {
			i = len(out)
			idx[key] = i
			out = append(out, TargetRef{Target: meta.Target{Crate: c.Target.Crate, Version: c.Target.Version}})
		}
		out[i].CaseIDs = append(out[i].CaseIDs, c.ID)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target.Crate != out[j].Target.Crate {
			return out[i].Target.Crate < out[j].Target.Crate
		}
		return out[i].Target.Version < out[j].Target.Version
	})
	return out
}

// Filter narrows a run to a subset of cases. Empty fields match everything;
// a case must satisfy every non-empty field.
type Filter struct {
	// IDs are glob patterns matched against the case id and the case name
	// ("0036" or "0036-bunch"), e.g. "01*" or "*-rdiff".
	IDs []string

	BugClasses []meta.BugClass
	Analyzers  []string
}

// IsEmpty reports whether the filter selects every case.
func (f Filter) IsEmpty() bool {
	return len(f.IDs) == 0 && len(f.BugClasses) == 0 && len(f.Analyzers) == 0
}

// Validate checks that every id pattern is a well-formed glob.
func (f Filter) Validate() error {
	for _, p := range f.IDs {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid case id pattern %q: %w", p, err)
		}
	}
	return nil
}

// Match reports whether c passes the filter. Patterns must already be valid.
func (f Filter) Match(c *meta.CaseDescriptor) bool {
	if len(f.IDs) > 0 && !f.matchID(c) {
		return false
	}
	if len(f.BugClasses) > 0 {
		found := false
		for _, class := range f.BugClasses {
			if c.HasBugClass(class) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Analyzers) > 0 {
		found := false
		for _, a := range f.Analyzers {
			if c.HasAnalyzer(a) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f Filter) matchID(c *meta.CaseDescriptor) bool {
	for _, p := range f.IDs {
		if ok, _ := filepath.Match(p, c.ID); ok {
			return true
		}
		if ok, _ := filepath.Match(p, c.Name); ok {
			return true
		}
	}
	return false
}

// Select returns the cases passing f, in declaration order.
func (r *Registry) Select(f Filter) ([]*meta.CaseDescriptor, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out []*meta.CaseDescriptor
	for _, c := range r.cases {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

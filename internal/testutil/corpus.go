package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/pocharness/internal/meta"
)

// CaseSpec describes a synthetic corpus case for tests.
type CaseSpec struct {
	ID       string
	Crate    string
	Version  string
	Analyzer string
	Classes  []meta.BugClass

	// NoPoC writes the "reported without PoC" body.
	NoPoC bool

	// Body replaces the default body when set.
	Body string
}

// Source renders the case file text.
func (s CaseSpec) Source() string {
	version := s.Version
	if version == "" {
		version = "0.1.0"
	}
	analyzer := s.Analyzer
	if analyzer == "" {
		analyzer = "UnsafeDataflow"
	}
	classes := s.Classes
	if len(classes) == 0 {
		classes = []meta.BugClass{meta.Other}
	}

	var b strings.Builder
	b.WriteString("/*!\n```rudra-poc\n")
	fmt.Fprintf(&b, "[target]\ncrate = %q\nversion = %q\n\n", s.Crate, version)
	fmt.Fprintf(&b, "[report]\nissue_url = %q\nissue_date = 2021-01-01\n", "https://example.com/"+s.Crate+"/issues/1")
	for _, c := range classes {
		fmt.Fprintf(&b, "\n[[bugs]]\nanalyzer = %q\nbug_class = %q\n", analyzer, string(c))
	}
	b.WriteString("```\n!*/\n#![forbid(unsafe_code)]\n\n")

	switch {
	case s.Body != "":
		b.WriteString(s.Body)
	case s.NoPoC:
		b.WriteString("fn main() {\n    panic!(\"This issue was reported without PoC\");\n}\n")
	default:
		b.WriteString("fn main() {}\n")
	}
	return b.String()
}

// FileName is the corpus file name, e.g. "0036-bunch.rs".
func (s CaseSpec) FileName() string {
	return s.ID + "-" + s.Crate + ".rs"
}

// Descriptor parses the rendered case, failing the test on error.
func (s CaseSpec) Descriptor(t testing.TB) *meta.CaseDescriptor {
	t.Helper()
	desc, err := meta.Parse(s.FileName(), []byte(s.Source()))
	if err != nil {
		t.Fatalf("parse %s: %v", s.FileName(), err)
	}
	return desc
}

// WriteCorpus writes each case into dir and returns dir.
func WriteCorpus(t testing.TB, dir string, specs ...CaseSpec) string {
	t.Helper()
	for _, s := range specs {
		WriteFile(t, filepath.Join(dir, s.FileName()), s.Source())
	}
	return dir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

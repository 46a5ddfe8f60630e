package meta

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Fence tags accepted on the opening line of the metadata block. crux-poc is
// what older scaffolds wrote.
var fenceTags = []string{"```rudra-poc", "```crux-poc"}

const (
	blockOpen  = "/*!"
	blockClose = "!*/"
	fenceClose = "```"

	// NoPoCMarker appears in the body of cases that were reported without a
	// reproduction.
	NoPoCMarker = "reported without PoC"

	// UnknownAnalyzer is used when a case declares bug classes but no analyzer.
	UnknownAnalyzer = "Unknown"
)

var caseFileRe = regexp.MustCompile(`^(\d{4})-([A-Za-z0-9_.-]+)\.rs$`)

// document mirrors the TOML block. Field set is closed; anything else is a typo.
type document struct {
	Target targetDoc `toml:"target"`
	Test   *testDoc  `toml:"test"`
	Report reportDoc `toml:"report"`
	Bugs   []bugDoc  `toml:"bugs"`
}

type targetDoc struct {
	Crate          string    `toml:"crate"`
	Version        string    `toml:"version"`
	IndexedVersion string    `toml:"indexed_version"`
	Peer           []peerDoc `toml:"peer"`
}

type peerDoc struct {
	Crate   string `toml:"crate"`
	Version string `toml:"version"`
}

type testDoc struct {
	Analyzers      []string `toml:"analyzers"`
	BugClasses     []string `toml:"bug_classes"`
	CargoToolchain string   `toml:"cargo_toolchain"`
	CargoFlags     []string `toml:"cargo_flags"`
}

type reportDoc struct {
	IssueURL      string          `toml:"issue_url"`
	IssueDate     *toml.LocalDate `toml:"issue_date"`
	RustsecURL    string          `toml:"rustsec_url"`
	RustsecID     string          `toml:"rustsec_id"`
	UniqueBugs    int             `toml:"unique_bugs"`
	Title         string          `toml:"title"`
	Description   string          `toml:"description"`
	CodeSnippets  []string        `toml:"code_snippets"`
	Patched       []string        `toml:"patched"`
	Informational string          `toml:"informational"`
}

type bugDoc struct {
	Analyzer  string   `toml:"analyzer"`
	BugClass  string   `toml:"bug_class"`
	BugCount  int      `toml:"bug_count"`
	Locations []string `toml:"rudra_report_locations"`
}

// CaseID derives the case id from a case file name ("0036-bunch.rs" -> "0036").
func CaseID(path string) (id, name string, err error) {
	base := filepath.Base(path)
	m := caseFileRe.FindStringSubmatch(base)
	if m == nil {
		return "", "", &MetadataError{
			Code:    ErrCodeFilename,
			File:    path,
			Message: fmt.Sprintf("file name %q does not match NNNN-crate.rs", base),
		}
	}
	return m[1], strings.TrimSuffix(base, ".rs"), nil
}

// Parse extracts and validates the metadata block of one case.
// It never compiles or executes anything.
func Parse(path string, src []byte) (*CaseDescriptor, error) {
	id, name, err := CaseID(path)
	if err != nil {
		return nil, err
	}

	block, body, err := splitBlock(path, src)
	if err != nil {
		return nil, err
	}

	var doc document
	dec := toml.NewDecoder(bytes.NewReader([]byte(block)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, tomlError(path, err)
	}

	if err := checkRequired(path, &doc); err != nil {
		return nil, err
	}
	if err := validateSchema(path, &doc); err != nil {
		return nil, err
	}

	desc := &CaseDescriptor{
		ID:   id,
		Name: name,
		Path: path,
		Target: Target{
			Crate:          doc.Target.Crate,
			Version:        doc.Target.Version,
			IndexedVersion: doc.Target.IndexedVersion,
		},
		Report: Report{
			IssueURL:   doc.Report.IssueURL,
			IssueDate:  formatDate(doc.Report.IssueDate),
			RustsecID:  doc.Report.RustsecID,
			RustsecURL: doc.Report.RustsecURL,
			UniqueBugs: doc.Report.UniqueBugs,
			Title:      doc.Report.Title,
		},
		Hint:   buildHint(&doc, body),
		Source: string(src),
		Body:   body,
	}
	desc.ExpectedBugs = buildBugs(&doc, desc.Hint)

	if len(desc.ExpectedBugs) == 0 && !desc.Hint.NoPoC {
		return nil, &MetadataError{
			Code:    ErrCodeMissingField,
			File:    path,
			Field:   "bugs",
			Message: "at least one [[bugs]] entry (or test.bug_classes) is required for a case with a PoC",
		}
	}

	return desc, nil
}

// splitBlock returns the TOML text and the case body.
func splitBlock(path string, src []byte) (string, string, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	if len(lines) < 2 || lines[0] != blockOpen || !isFenceOpen(lines[1]) {
		return "", "", &MetadataError{
			Code:    ErrCodeNoMetadata,
			File:    path,
			Line:    1,
			Message: "case must start with a /*! block holding a ```rudra-poc fence",
		}
	}

	fenceEnd := -1
	for i := 2; i < len(lines); i++ {
		if lines[i] == fenceClose {
			fenceEnd = i
			break
		}
	}
	if fenceEnd < 0 {
		return "", "", &MetadataError{
			Code:    ErrCodeNoMetadata,
			File:    path,
			Message: "metadata fence is never closed",
		}
	}

	commentEnd := -1
	for i := fenceEnd + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == blockClose {
			commentEnd = i
			break
		}
	}
	if commentEnd < 0 {
		return "", "", &MetadataError{
			Code:    ErrCodeNoMetadata,
			File:    path,
			Message: "metadata comment is never closed with !*/",
		}
	}

	block := strings.Join(lines[2:fenceEnd], "\n")
	body := strings.TrimSpace(strings.Join(lines[commentEnd+1:], "\n"))
	return block, body, nil
}

func isFenceOpen(line string) bool {
	line = strings.TrimSpace(line)
	for _, tag := range fenceTags {
		if line == tag {
			return true
		}
	}
	return false
}

// tomlError converts a go-toml failure into a MetadataError with a file line.
func tomlError(path string, err error) error {
	me := &MetadataError{Code: ErrCodeTOML, File: path, Message: err.Error(), Err: err}

	var de *toml.DecodeError
	if errors.As(err, &de) {
		row, _ := de.Position()
		// The TOML document starts on the third line of the file.
		me.Line = row + 2
	}
	var sm *toml.StrictMissingError
	if errors.As(err, &sm) {
		me.Message = "unknown keys in metadata: " + strings.TrimSpace(sm.String())
	}
	return me
}

func checkRequired(path string, doc *document) error {
	missing := func(field string) error {
		return &MetadataError{
			Code:    ErrCodeMissingField,
			File:    path,
			Field:   field,
			Message: "required field is missing",
		}
	}
	if strings.TrimSpace(doc.Target.Crate) == "" {
		return missing("target.crate")
	}
	if strings.TrimSpace(doc.Target.Version) == "" {
		return missing("target.version")
	}
	if strings.TrimSpace(doc.Report.IssueURL) == "" {
		return missing("report.issue_url")
	}
	return nil
}

func buildHint(doc *document, body string) ExecutionHint {
	hint := ExecutionHint{NoPoC: strings.Contains(body, NoPoCMarker)}
	if doc.Test != nil {
		hint.Toolchain = doc.Test.CargoToolchain
		hint.CargoFlags = append([]string(nil), doc.Test.CargoFlags...)
		hint.Analyzers = append([]string(nil), doc.Test.Analyzers...)
		for _, c := range doc.Test.BugClasses {
			class, _ := ParseBugClass(c)
			hint.BugClasses = append(hint.BugClasses, class)
		}
	}
	for _, p := range doc.Target.Peer {
		hint.Peers = append(hint.Peers, Target{Crate: p.Crate, Version: p.Version})
	}
	return hint
}

// buildBugs returns the declared [[bugs]], or derives them from the test
// section when a case only lists analyzers and classes.
func buildBugs(doc *document, hint ExecutionHint) []ExpectedBug {
	var bugs []ExpectedBug
	for _, b := range doc.Bugs {
		class, _ := ParseBugClass(b.BugClass)
		bugs = append(bugs, ExpectedBug{
			Analyzer:  b.Analyzer,
			BugClass:  class,
			Count:     b.BugCount,
			Locations: append([]string(nil), b.Locations...),
		})
	}
	if len(bugs) > 0 || len(hint.BugClasses) == 0 {
		return bugs
	}

	analyzers := hint.Analyzers
	if len(analyzers) == 0 {
		analyzers = []string{UnknownAnalyzer}
	}
	for _, class := range hint.BugClasses {
		for _, a := range analyzers {
			bugs = append(bugs, ExpectedBug{Analyzer: a, BugClass: class})
		}
	}
	return bugs
}

func formatDate(d *toml.LocalDate) string {
	if d == nil {
		return ""
	}
	return d.String()
}

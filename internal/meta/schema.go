package meta

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// schemaValidator holds the compiled #Case definition. A cue.Context is not
// safe for concurrent use, so every validation takes the lock.
type schemaValidator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	def  cue.Value
	err  error
	once sync.Once
}

var schema schemaValidator

func (s *schemaValidator) init() {
	s.once.Do(func() {
		s.ctx = cuecontext.New()
		v := s.ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			s.err = fmt.Errorf("compile metadata schema: %w", err)
			return
		}
		s.def = v.LookupPath(cue.ParsePath("#Case"))
		if err := s.def.Err(); err != nil {
			s.err = fmt.Errorf("lookup #Case: %w", err)
		}
	})
}

// schemaView is the JSON-shaped projection of a document that CUE validates.
// omitempty keeps absent optional fields absent instead of zero.
type schemaView struct {
	Target targetView `json:"target"`
	Test   *testView  `json:"test,omitempty"`
	Report reportView `json:"report"`
	Bugs   []bugView  `json:"bugs,omitempty"`
}

type targetView struct {
	Crate          string     `json:"crate"`
	Version        string     `json:"version"`
	IndexedVersion string     `json:"indexed_version,omitempty"`
	Peer           []peerView `json:"peer,omitempty"`
}

type peerView struct {
	Crate   string `json:"crate"`
	Version string `json:"version"`
}

type testView struct {
	Analyzers      []string `json:"analyzers,omitempty"`
	BugClasses     []string `json:"bug_classes,omitempty"`
	CargoToolchain string   `json:"cargo_toolchain,omitempty"`
	CargoFlags     []string `json:"cargo_flags,omitempty"`
}

type reportView struct {
	IssueURL   string `json:"issue_url"`
	IssueDate  string `json:"issue_date,omitempty"`
	RustsecURL string `json:"rustsec_url,omitempty"`
	RustsecID  string `json:"rustsec_id,omitempty"`
	UniqueBugs int    `json:"unique_bugs,omitempty"`
	Title      string `json:"title,omitempty"`
}

type bugView struct {
	Analyzer  string   `json:"analyzer"`
	BugClass  string   `json:"bug_class"`
	BugCount  int      `json:"bug_count,omitempty"`
	Locations []string `json:"rudra_report_locations,omitempty"`
}

func newSchemaView(doc *document) schemaView {
	view := schemaView{
		Target: targetView{
			Crate:          doc.Target.Crate,
			Version:        doc.Target.Version,
			IndexedVersion: doc.Target.IndexedVersion,
		},
		Report: reportView{
			IssueURL:   doc.Report.IssueURL,
			IssueDate:  formatDate(doc.Report.IssueDate),
			RustsecURL: doc.Report.RustsecURL,
			RustsecID:  doc.Report.RustsecID,
			UniqueBugs: doc.Report.UniqueBugs,
			Title:      doc.Report.Title,
		},
	}
	for _, p := range doc.Target.Peer {
		view.Target.Peer = append(view.Target.Peer, peerView(p))
	}
	if doc.Test != nil {
		view.Test = &testView{
			Analyzers:      doc.Test.Analyzers,
			BugClasses:     doc.Test.BugClasses,
			CargoToolchain: doc.Test.CargoToolchain,
			CargoFlags:     doc.Test.CargoFlags,
		}
	}
	for _, b := range doc.Bugs {
		view.Bugs = append(view.Bugs, bugView{
			Analyzer:  b.Analyzer,
			BugClass:  b.BugClass,
			BugCount:  b.BugCount,
			Locations: b.Locations,
		})
	}
	return view
}

// validateSchema unifies the decoded document with #Case.
func validateSchema(path string, doc *document) error {
	schema.init()
	if schema.err != nil {
		return schema.err
	}

	schema.mu.Lock()
	defer schema.mu.Unlock()

	val := schema.ctx.Encode(newSchemaView(doc))
	if err := val.Err(); err != nil {
		return &MetadataError{Code: ErrCodeSchema, File: path, Message: err.Error(), Err: err}
	}

	unified := schema.def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaError(path, err)
	}
	return nil
}

// schemaError reports the first CUE violation with the offending field path.
func schemaError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &MetadataError{Code: ErrCodeSchema, File: path, Message: err.Error(), Err: err}
	}
	first := errs[0]
	format, args := first.Msg()
	return &MetadataError{
		Code:    ErrCodeSchema,
		File:    path,
		Field:   strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

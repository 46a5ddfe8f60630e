package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/pocharness/internal/meta"
)

// CaseExt is the file extension of a case.
const CaseExt = ".rs"

// CorpusError means the corpus root itself could not be read. Like a
// duplicate id, it aborts the run.
type CorpusError struct {
	Root string
	Err  error
}

func (e *CorpusError) Error() string {
	return fmt.Sprintf("read corpus %s: %v", e.Root, e.Err)
}

func (e *CorpusError) Unwrap() error {
	return e.Err
}

// IsCorpusError returns true if err is (or wraps) a CorpusError.
func IsCorpusError(err error) bool {
	var ce *CorpusError
	return errors.As(err, &ce)
}

// Corpus is the result of loading a corpus directory: the registry of
// well-formed cases plus every case excluded for malformed metadata.
type Corpus struct {
	Root      string
	Registry  *Registry
	Malformed []*meta.MetadataError
}

// Load reads every *.rs file directly under root, parses it, and builds the
// registry. Malformed cases are collected, not fatal. An unreadable root or a
// duplicate id is fatal.
func Load(root string) (*Corpus, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &CorpusError{Root: root, Err: err}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), CaseExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	corpus := &Corpus{Root: root}
	var cases []*meta.CaseDescriptor
	for _, name := range names {
		path := filepath.Join(root, name)
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, &CorpusError{Root: root, Err: err}
		}
		desc, err := meta.Parse(path, src)
		if err != nil {
			var me *meta.MetadataError
			if errors.As(err, &me) {
				corpus.Malformed = append(corpus.Malformed, me)
				continue
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cases = append(cases, desc)
	}

	reg, err := New(cases)
	if err != nil {
		return nil, err
	}
	corpus.Registry = reg
	return corpus, nil
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/registry"
	"github.com/roach88/pocharness/internal/report"
)

// filterFlags are the case selection flags shared by run and list.
type filterFlags struct {
	IDs        []string
	BugClasses []string
	Analyzers  []string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.IDs, "id", nil, "case id or name glob, e.g. 0036 or '01*' (repeatable)")
	cmd.Flags().StringSliceVar(&f.BugClasses, "bug-class", nil, "only cases declaring this bug class (repeatable)")
	cmd.Flags().StringSliceVar(&f.Analyzers, "analyzer", nil, "only cases reported by this analyzer (repeatable)")
}

// filter builds the registry filter. Unknown bug class names are kept as
// written so that corpus-specific classes can still be selected.
func (f *filterFlags) filter() registry.Filter {
	out := registry.Filter{IDs: f.IDs, Analyzers: f.Analyzers}
	for _, name := range f.BugClasses {
		class, _ := meta.ParseBugClass(name)
		out.BugClasses = append(out.BugClasses, class)
	}
	return out
}

// corpusDir returns the corpus directory argument, or the configured one.
func corpusDir(args []string, fallback string) string {
	if len(args) > 0 {
		return args[0]
	}
	return fallback
}

// loadCorpus loads dir and reports fatal corpus errors through formatter.
func loadCorpus(formatter *OutputFormatter, dir string) (*registry.Corpus, error) {
	corpus, err := registry.Load(dir)
	switch {
	case err == nil:
		formatter.VerboseLog("Loaded %d case(s) from %s (%d malformed)", corpus.Registry.Len(), dir, len(corpus.Malformed))
		return corpus, nil
	case registry.IsCorpusError(err):
		return nil, formatter.Fail(ExitCommandError, ErrCodeCorpus, fmt.Sprintf("cannot read corpus %s", dir), err)
	case registry.IsDuplicateCaseID(err):
		return nil, formatter.Fail(ExitCommandError, ErrCodeDuplicateID, "duplicate case id", err)
	default:
		return nil, formatter.Fail(ExitCommandError, ErrCodeGeneric, "load corpus", err)
	}
}

// selectCases applies the filter flags to the loaded registry.
func selectCases(formatter *OutputFormatter, corpus *registry.Corpus, f *filterFlags) ([]*meta.CaseDescriptor, error) {
	cases, err := corpus.Registry.Select(f.filter())
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeFilter, "invalid case filter", err)
	}
	return cases, nil
}

// malformedCases converts metadata errors for output.
func malformedCases(errs []*meta.MetadataError) []report.MalformedCase {
	out := make([]report.MalformedCase, 0, len(errs))
	for _, e := range errs {
		out = append(out, report.MalformedCase{File: e.File, Code: string(e.Code), Message: e.Message})
	}
	return out
}

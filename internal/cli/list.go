package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/classify"
	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/registry"
	"github.com/roach88/pocharness/internal/sandbox"
)

// ListOptions holds options for the list command.
type ListOptions struct {
	*RootOptions
	filter  filterFlags
	Targets bool
}

// CaseEntry is one listed case.
type CaseEntry struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Target     string                `json:"target"`
	BugClasses []meta.BugClass       `json:"bug_classes"`
	Analyzers  []string              `json:"analyzers"`
	NoPoC      bool                  `json:"no_poc,omitempty"`
	Accepts    []sandbox.OutcomeKind `json:"accepts"`
}

// TargetEntry is one distinct crate@version and the cases pinned to it.
type TargetEntry struct {
	Target  string   `json:"target"`
	CaseIDs []string `json:"case_ids"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list [corpus-dir]",
		Short: "List corpus cases without running them",
		Long: `List the well-formed cases of a corpus in registry order, with their
declared bug classes and the outcome kinds that can match them.

With --targets, list the distinct crate versions the corpus pins instead.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, args, cmd)
		},
	}

	opts.filter.register(cmd)
	cmd.Flags().BoolVar(&opts.Targets, "targets", false, "list distinct crate@version targets")

	return cmd
}

func runList(opts *ListOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	corpus, err := loadCorpus(formatter, corpusDir(args, cfg.Corpus))
	if err != nil {
		return err
	}

	if opts.Targets {
		return listTargets(opts, formatter, cmd, corpus.Registry.Targets())
	}

	cases, err := selectCases(formatter, corpus, &opts.filter)
	if err != nil {
		return err
	}
	rules := classify.DefaultRules()
	entries := make([]CaseEntry, 0, len(cases))
	for _, c := range cases {
		entries = append(entries, caseEntry(rules, c))
	}

	if formatter.JSON() {
		return formatter.Success(entries)
	}

	t := newListTable(opts.Format)
	t.AppendHeader(table.Row{"ID", "Case", "Target", "Bug class", "Analyzer", "Accepts"})
	for _, e := range entries {
		accepts := joinOutcomes(e.Accepts)
		if e.NoPoC {
			accepts = "attested (no PoC)"
		}
		t.AppendRow(table.Row{e.ID, e.Name, e.Target, joinClasses(e.BugClasses), strings.Join(e.Analyzers, ", "), accepts})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderListTable(t, opts.Format))
	fmt.Fprintf(cmd.OutOrStdout(), "%d case(s)\n", len(entries))
	return nil
}

func listTargets(opts *ListOptions, formatter *OutputFormatter, cmd *cobra.Command, refs []registry.TargetRef) error {
	entries := make([]TargetEntry, 0, len(refs))
	for _, r := range refs {
		entries = append(entries, TargetEntry{Target: r.Target.String(), CaseIDs: r.CaseIDs})
	}
	if formatter.JSON() {
		return formatter.Success(entries)
	}

	t := newListTable(opts.Format)
	t.AppendHeader(table.Row{"Target", "Cases"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Target, strings.Join(e.CaseIDs, ", ")})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderListTable(t, opts.Format))
	return nil
}

// caseEntry describes c and the union of outcome kinds its classes accept.
func caseEntry(rules classify.Rules, c *meta.CaseDescriptor) CaseEntry {
	e := CaseEntry{
		ID:         c.ID,
		Name:       c.Name,
		Target:     c.Target.String(),
		BugClasses: c.BugClasses(),
		Analyzers:  c.Analyzers(),
		NoPoC:      c.Hint.NoPoC,
		Accepts:    []sandbox.OutcomeKind{},
	}
	for _, class := range e.BugClasses {
		for _, k := range rules.Accepted(class) {
			if !slices.Contains(e.Accepts, k) {
				e.Accepts = append(e.Accepts, k)
			}
		}
	}
	slices.Sort(e.Accepts)
	return e
}

func newListTable(format string) table.Writer {
	t := table.NewWriter()
	if format != FormatMarkdown {
		t.SetStyle(table.StyleLight)
	}
	return t
}

func renderListTable(t table.Writer, format string) string {
	if format == FormatMarkdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func joinClasses(classes []meta.BugClass) string {
	parts := make([]string, len(classes))
	for i, c := range classes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

func joinOutcomes(kinds []sandbox.OutcomeKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

package report

import (
	"fmt"
	"io"
	"strings"
)

// RenderMarkdown writes the report as GitHub-flavoured Markdown, suitable for
// a CI job summary.
func RenderMarkdown(w io.Writer, s *Summary) error {
	var sb strings.Builder

	result := "PASS"
	if !s.Pass {
		result = "FAIL"
	}
	fmt.Fprintf(&sb, "# Corpus verification: %s\n\n", result)

	t := s.Totals
	fmt.Fprintf(&sb, "%d cases: %d matched, %d attested, %d mismatched, %d build failed, %d inconclusive, %d flaky, %d allowlisted.\n\n",
		t.Cases, t.Matched, t.Attested, t.Mismatched, t.BuildFailed, t.Inconclusive, t.Flaky, t.AcceptedFlaky)

	if len(s.Failed) > 0 {
		fmt.Fprintf(&sb, "**Failed:** %s\n\n", strings.Join(s.Failed, ", "))
	}

	sb.WriteString("## Cases\n\n")
	cases := newTable(modeMarkdown)
	cases.header("ID", "Case", "Target", "Bug class", "Observed", "Status", "Reason")
	for _, cs := range s.Cases {
		cases.row(cs.ID, cs.Name, cs.Target, classesLabel(cs), outcomesLabel(cs.Outcomes),
			statusLabel(cs), cs.Reason)
	}
	sb.WriteString(cases.String())
	sb.WriteString("\n\n## By bug class\n\n")
	writeGroups(&sb, "Bug class", s.ByBugClass, modeMarkdown)
	sb.WriteString("\n\n## By analyzer\n\n")
	writeGroups(&sb, "Analyzer", s.ByAnalyzer, modeMarkdown)
	sb.WriteString("\n")

	if len(s.Malformed) > 0 {
		sb.WriteString("\n## Malformed cases\n\n")
		for _, m := range s.Malformed {
			fmt.Fprintf(&sb, "- `%s` %s: %s\n", m.File, m.Code, oneLine(m.Message))
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// oneLine keeps a list item on one line. Table cells are escaped by go-pretty.
func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/roach88/pocharness/internal/sandbox"
)

// TextOptions tune the human-readable report.
type TextOptions struct {
	// Color enables lipgloss styling. Callers set it when writing to a TTY.
	Color bool

	// Verbose adds the captured output of every failed case.
	Verbose bool
}

type palette struct {
	ok, fail, warn, muted, bold lipgloss.Style
	enabled                     bool
}

func newPalette(color bool) palette {
	return palette{
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		bold:    lipgloss.NewStyle().Bold(true),
		enabled: color,
	}
}

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.enabled {
		return text
	}
	return s.Render(text)
}

// marker is the per-case status glyph.
func (p palette) marker(cs CaseSummary) string {
	switch {
	case cs.Skipped:
		return p.render(p.muted, "○")
	case cs.Matched:
		return p.render(p.ok, "✓")
	case cs.AcceptedFlaky:
		return p.render(p.warn, "~")
	default:
		return p.render(p.fail, "✗")
	}
}

// statusLabel is the status column text.
func statusLabel(cs CaseSummary) string {
	label := string(cs.Status)
	if cs.AcceptedFlaky {
		label += " (allowlisted)"
	}
	if cs.Flaky {
		label += " [flaky]"
	}
	return label
}

func outcomesLabel(outcomes []sandbox.OutcomeKind) string {
	if len(outcomes) == 0 {
		return "-"
	}
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		parts[i] = string(o)
	}
	return strings.Join(parts, ",")
}

func classesLabel(cs CaseSummary) string {
	parts := make([]string, len(cs.BugClasses))
	for i, c := range cs.BugClasses {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// RenderText writes the human-readable report.
func RenderText(w io.Writer, s *Summary, opts TextOptions) error {
	p := newPalette(opts.Color)
	var sb strings.Builder

	cases := newTable(modeASCII)
	cases.header("", "ID", "Case", "Bug class", "Observed", "Exit", "Time", "Status")
	for _, cs := range s.Cases {
		cases.row(p.marker(cs), cs.ID, cs.Name, classesLabel(cs), outcomesLabel(cs.Outcomes),
			cs.ExitStatus, formatWall(cs.WallTime, cs.Skipped), statusLabel(cs))
	}
	sb.WriteString(cases.String())
	sb.WriteString("\n\n")

	writeGroups(&sb, "Bug class", s.ByBugClass, modeASCII)
	sb.WriteString("\n\n")
	writeGroups(&sb, "Analyzer", s.ByAnalyzer, modeASCII)
	sb.WriteString("\n")

	if len(s.Malformed) > 0 {
		sb.WriteString("\n" + p.render(p.warn, fmt.Sprintf("Malformed cases (%d):", len(s.Malformed))) + "\n")
		for _, m := range s.Malformed {
			fmt.Fprintf(&sb, "  %s [%s] %s\n", m.File, m.Code, m.Message)
		}
	}

	failures := false
	for _, cs := range s.Cases {
		if cs.Matched || cs.Skipped {
			continue
		}
		if !failures {
			sb.WriteString("\n" + p.render(p.bold, "Unmatched cases:") + "\n")
			failures = true
		}
		fmt.Fprintf(&sb, "  %s %s: %s\n", p.marker(cs), cs.Name, cs.Reason)
		for _, ev := range cs.Evidence {
			fmt.Fprintf(&sb, "      evidence: %s\n", ev)
		}
		if opts.Verbose && cs.Output != "" {
			size := humanize.IBytes(uint64(len(cs.Output)))
			if cs.Truncated {
				size += ", truncated"
			}
			fmt.Fprintf(&sb, "      --- captured output (%s) ---\n", size)
			for _, line := range strings.Split(strings.TrimRight(cs.Output, "\n"), "\n") {
				sb.WriteString("      " + line + "\n")
			}
		}
	}

	t := s.Totals
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d cases: %d matched, %d attested, %d mismatched, %d build failed, %d inconclusive",
		t.Cases, t.Matched, t.Attested, t.Mismatched, t.BuildFailed, t.Inconclusive)
	if t.Flaky > 0 || t.AcceptedFlaky > 0 {
		fmt.Fprintf(&sb, " (%d flaky, %d allowlisted)", t.Flaky, t.AcceptedFlaky)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&sb, " in %s", s.Duration.Round(time.Millisecond))
	}
	sb.WriteString("\n")

	if s.Pass {
		sb.WriteString(p.render(p.ok, "PASS") + "\n")
	} else {
		sb.WriteString(p.render(p.fail, "FAIL") + ": " + strings.Join(s.Failed, ", ") + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeGroups(sb *strings.Builder, title string, groups []GroupCount, mode tableMode) {
	tb := newTable(mode)
	tb.header(title, "Total", "Matched", "Attested", "Failed", "Flaky")
	tb.alignRight(2, 3, 4, 5, 6)
	for _, g := range groups {
		tb.row(g.Name, g.Total, g.Matched, g.Attested, g.Failed, g.Flaky)
	}
	sb.WriteString(tb.String())
}

func formatWall(d time.Duration, skipped bool) string {
	if skipped {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

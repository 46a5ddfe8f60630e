package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/history"
	"github.com/roach88/pocharness/internal/sandbox"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Runs     int
	Prune    int
	Flaky    bool
}

// HistoryResult is the JSON payload of the history command.
type HistoryResult struct {
	Runs   []history.RunInfo     `json:"runs"`
	Cases  []history.CaseHistory `json:"cases"`
	Pruned int64                 `json:"pruned,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs and per-case outcome history",
		Long: `Show the runs recorded in the run history database and, for every case,
its outcome kinds across those runs, oldest first. A case whose outcome kind
changed is flaky.

Example:
  pocharness history --history runs.db --runs 5
  pocharness history --history runs.db --prune 50`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "history", "", "SQLite run history database (default from config)")
	cmd.Flags().IntVar(&opts.Runs, "runs", 10, "number of recent runs to show (0 means all)")
	cmd.Flags().IntVar(&opts.Prune, "prune", -1, "delete all but the newest N runs first")
	cmd.Flags().BoolVar(&opts.Flaky, "flaky", false, "only show flaky cases")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	path := opts.Database
	if path == "" {
		cfg, err := opts.config()
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
		}
		path = cfg.History
	}
	if path == "" {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "no run history configured: pass --history or set history in the config file", nil)
	}

	st, err := history.Open(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeHistory, "cannot open run history", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	var result HistoryResult
	if opts.Prune >= 0 {
		result.Pruned, err = st.Prune(ctx, opts.Prune)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeHistory, "cannot prune run history", err)
		}
		formatter.VerboseLog("Pruned %d run(s)", result.Pruned)
	}

	result.Runs, err = st.Runs(ctx, opts.Runs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeHistory, "cannot read runs", err)
	}
	cases, err := st.Cases(ctx, opts.Runs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeHistory, "cannot read case history", err)
	}
	for _, c := range cases {
		if opts.Flaky && !c.Flaky {
			continue
		}
		result.Cases = append(result.Cases, c)
	}
	if result.Runs == nil {
		result.Runs = []history.RunInfo{}
	}
	if result.Cases == nil {
		result.Cases = []history.CaseHistory{}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	writeHistory(cmd, opts.Format, result)
	return nil
}

func writeHistory(cmd *cobra.Command, format string, result HistoryResult) {
	out := cmd.OutOrStdout()
	if result.Pruned > 0 {
		fmt.Fprintf(out, "Pruned %d run(s)\n\n", result.Pruned)
	}
	if len(result.Runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	runs := newListTable(format)
	runs.AppendHeader(table.Row{"Run", "Started", "Duration", "Cases", "Repeat", "Result"})
	for _, r := range result.Runs {
		status := "PASS"
		if !r.Pass {
			status = "FAIL"
		}
		runs.AppendRow(table.Row{r.ID, humanize.Time(r.StartedAt), r.Duration.Round(time.Millisecond).String(), r.Cases, r.Repeat, status})
	}
	fmt.Fprintln(out, renderListTable(runs, format))
	fmt.Fprintln(out)

	cases := newListTable(format)
	cases.AppendHeader(table.Row{"Case", "Outcomes (oldest first)", "Flaky"})
	for _, c := range result.Cases {
		flaky := ""
		if c.Flaky {
			flaky = "yes"
		}
		cases.AppendRow(table.Row{c.CaseID, outcomeTrail(c.Outcomes), flaky})
	}
	fmt.Fprintln(out, renderListTable(cases, format))
}

// outcomeTrail abbreviates consecutive repeats: "Crashed x3, TimedOut".
func outcomeTrail(outcomes []sandbox.OutcomeKind) string {
	var parts []string
	for i := 0; i < len(outcomes); {
		j := i
		for j < len(outcomes) && outcomes[j] == outcomes[i] {
			j++
		}
		part := string(outcomes[i])
		if n := j - i; n > 1 {
			part = fmt.Sprintf("%s x%d", part, n)
		}
		parts = append(parts, part)
		i = j
	}
	return strings.Join(parts, ", ")
}

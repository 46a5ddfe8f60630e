package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/report"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                   `json:"valid"`
	Cases     int                    `json:"cases"`
	NoPoC     int                    `json:"no_poc"`
	Malformed []report.MalformedCase `json:"malformed,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [corpus-dir]",
		Short: "Check case metadata without building anything",
		Long: `Parse the metadata block of every case in a corpus and report the ones
that are malformed. Nothing is built or run.

Exits 1 if any case is malformed and 2 if the corpus cannot be loaded at
all (unreadable directory or duplicate case ids).`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	corpus, err := loadCorpus(formatter, corpusDir(args, cfg.Corpus))
	if err != nil {
		return err
	}

	result := ValidationResult{
		Valid:     len(corpus.Malformed) == 0,
		Cases:     corpus.Registry.Len(),
		Malformed: malformedCases(corpus.Malformed),
	}
	for _, c := range corpus.Registry.All() {
		if c.Hint.NoPoC {
			result.NoPoC++
		}
	}

	if !result.Valid {
		return outputValidateFailure(formatter, result)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %d case(s) valid (%d without PoC)\n", result.Cases, result.NoPoC)
	return nil
}

func outputValidateFailure(formatter *OutputFormatter, result ValidationResult) error {
	msg := fmt.Sprintf("%d malformed case(s)", len(result.Malformed))
	if formatter.JSON() {
		if err := formatter.Error(ErrCodeMalformed, msg, result); err != nil {
			return WrapExitError(ExitCommandError, "write output", err)
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.GetErrWriter()
	for _, m := range result.Malformed {
		fmt.Fprintf(w, "✗ %s [%s] %s\n", m.File, m.Code, m.Message)
	}
	fmt.Fprintf(w, "%d case(s) valid, %s\n", result.Cases, msg)
	return NewExitError(ExitFailure, msg)
}

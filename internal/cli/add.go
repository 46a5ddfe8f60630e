package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pocharness/internal/meta"
	"github.com/roach88/pocharness/internal/registry"
)

// AddResult describes a scaffolded case.
type AddResult struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <crate> <version> [corpus-dir]",
		Short: "Scaffold a new case under the next free id",
		Long: `Write a new case file for crate@version under the next free four-digit id,
with a metadata block to fill in and an empty main.

Example:
  pocharness add smallvec 0.6.13 ./poc`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runAdd(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.config()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	dir := corpusDir(args[2:], cfg.Corpus)

	path, err := registry.Scaffold(dir, args[0], args[1])
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, "cannot scaffold case", err)
	}
	id, _, err := meta.CaseID(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "scaffolded an unparseable file name", err)
	}

	if formatter.JSON() {
		return formatter.Success(AddResult{ID: id, Path: path})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

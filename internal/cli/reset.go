package cli

import (
	"fmt"

	"bracket_tracker/ingestion/internal/app"

	"github.com/spf13/cobra"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Season int
	Yes    bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every team and game of a season",
		Long: `Delete every team and game of a season so it can be rebuilt with backfill.

This cannot be undone. --yes is required.

Example:
  bracketctl reset --season 2024 --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Season, "season", 0, "season year")
	cmd.Flags().BoolVar(&opts.Yes, "yes", false, "confirm the reset")
	_ = cmd.MarkFlagRequired("season")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
	if !opts.Yes {
		return fmt.Errorf("refusing to reset season %d without --yes", opts.Season)
	}

	return opts.withStore(cmd.Context(), func(st app.Store) error {
		if err := st.Reset(cmd.Context(), opts.Season); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "season %d reset\n", opts.Season)
		return err
	})
}

package cli

import (
	"fmt"
	"time"

	"bracket_tracker/ingestion/internal/app"

	"github.com/spf13/cobra"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Year  int
	Month int
	From  int
	To    int
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Reconcile a range of days in one month",
		Long: `Reconcile days --from through --to of one month in order.

The first failing day stops the backfill; days already applied stay applied
and re-running the same range is safe.

Example:
  bracketctl backfill --year 2024 --month 3 --from 21 --to 31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Year, "year", time.Now().Year(), "season year")
	cmd.Flags().IntVar(&opts.Month, "month", 0, "month (1-12)")
	cmd.Flags().IntVar(&opts.From, "from", 0, "first day")
	cmd.Flags().IntVar(&opts.To, "to", 0, "last day")
	_ = cmd.MarkFlagRequired("month")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runBackfill(opts *BackfillOptions, cmd *cobra.Command) error {
	if opts.Month < 1 || opts.Month > 12 {
		return fmt.Errorf("invalid --month %d", opts.Month)
	}

	return opts.withStore(cmd.Context(), func(st app.Store) error {
		rec := app.NewReconciler(opts.Config, app.NewFeed(opts.Config), st)
		summary, err := rec.ReconcileRange(cmd.Context(), opts.Year, opts.Month, opts.From, opts.To)
		if printErr := printSummary(cmd.OutOrStdout(), opts.Format, summary); printErr != nil {
			return printErr
		}
		return err
	})
}

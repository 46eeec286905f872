package cli

import (
	"fmt"
	"io"
	"time"

	"bracket_tracker/ingestion/internal/app"
	"bracket_tracker/ingestion/internal/reconciler"

	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	Date string
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile one scoreboard day",
		Long: `Fetch one day's scoreboard and apply it to the store.

Running it again on the same day is safe: closed games are never re-applied.

Example:
  bracketctl reconcile --date 2024-03-21`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "day to reconcile as YYYY-MM-DD (default: today in FEED_TIMEZONE)")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	loc := cfg.Location()

	day := time.Now().In(loc)
	if opts.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", opts.Date, loc)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		day = parsed
	}

	return opts.withStore(cmd.Context(), func(st app.Store) error {
		rec := app.NewReconciler(cfg, app.NewFeed(cfg), st)
		summary, err := rec.ReconcileDate(cmd.Context(), day)
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), opts.Format, summary)
	})
}

func printSummary(w io.Writer, format string, s reconciler.Summary) error {
	if format == "json" {
		return writeJSON(w, s)
	}
	label := s.Date
	if label == "" {
		label = "range"
	}
	_, err := fmt.Fprintf(w, "%s: seen=%d filtered=%d created=%d progressed=%d finalized=%d already_closed=%d\n",
		label, s.Seen, s.Filtered, s.Created, s.Progressed, s.Finalized, s.AlreadyClosed)
	return err
}

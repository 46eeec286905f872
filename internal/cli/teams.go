package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"bracket_tracker/ingestion/internal/app"

	"github.com/spf13/cobra"
)

// TeamsOptions holds flags for the teams command.
type TeamsOptions struct {
	*RootOptions
	Season int
}

// NewTeamsCommand creates the teams command.
func NewTeamsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TeamsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Print a season's standings ordered by seed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTeams(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Season, "season", time.Now().Year(), "season year")

	return cmd
}

func runTeams(opts *TeamsOptions, cmd *cobra.Command) error {
	return opts.withStore(cmd.Context(), func(st app.Store) error {
		teams, err := st.Teams().List(cmd.Context(), opts.Season)
		if err != nil {
			return err
		}

		if opts.Format == "json" {
			return writeJSON(cmd.OutOrStdout(), teams)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SEED\tCODE\tTEAM\tCONFIRMED\tLIVE\tELIMINATED")
		for _, t := range teams {
			eliminated := "-"
			if !t.InTournament {
				eliminated = t.EliminatedOn
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\n",
				t.Seed, t.ShortCode, t.DisplayName, t.ConfirmedPoints, t.InProgressPoints, eliminated)
		}
		return tw.Flush()
	})
}

// Package cli implements the bracketctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"bracket_tracker/ingestion/internal/app"
	"bracket_tracker/ingestion/internal/config"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// RootOptions holds global flags and shared state for all commands.
type RootOptions struct {
	Verbose bool
	Format  string

	// Config is loaded before any subcommand runs
	Config *config.Config

	// OpenStore opens the persistence gateway (overridable in tests).
	OpenStore func(ctx context.Context, cfg *config.Config) (app.Store, func(), error)
}

// NewRootCommand creates the root command for bracketctl.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{OpenStore: app.OpenStore})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bracketctl",
		Short: "Operate the bracket score tracker",
		Long: `Operate the NCAA bracket score tracker.

Reconciles scoreboard days on demand, backfills past tournament days,
prints standings and manages the database schema.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.Config = cfg

			app.SetupLogger(cfg.AppEnv, cfg.LogLevel)
			if opts.Verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewTeamsCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// withStore opens the store for the duration of fn
func (o *RootOptions) withStore(ctx context.Context, fn func(app.Store) error) error {
	st, closeStore, err := o.OpenStore(ctx, o.Config)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()
	return fn(st)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Package cli implements the msearch terminal client.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/moviesearch/internal/config"
)

type options struct {
	envFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the msearch command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "msearch",
		Short: "Search OMDb for movies from the terminal",
		Long: `msearch looks movies up by title on OMDb and prints them as a table,
filtered by minimum IMDb rating and sorted by rating.

Example usage:
  msearch search inception                  # Highest rated first
  msearch search star wars --min-rating 7   # Only 7+ ratings
  msearch search alien --sort asc           # Lowest rated first
  msearch cache purge --older-than 24h      # Drop stale cached lookups`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
	}

	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "environment file to load before reading configuration")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newSearchCmd(opts))
	root.AddCommand(newCacheCmd(opts))

	return root
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *options) init() error {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	o.cfg = cfg
	o.logger = cfg.NewLogger(os.Stderr)

	o.logger.Debug("configuration loaded",
		"omdb_base_url", cfg.OMDbBaseURL,
		"database", cfg.DBPath,
	)
	return nil
}

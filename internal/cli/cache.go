package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/moviesearch/internal/database"
	"github.com/kdimtricp/moviesearch/internal/storage"
)

func newCacheCmd(opts *options) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local lookup cache",
	}

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete cached lookups and posters",
		Long: `Delete cached OMDb lookups from the local database and stored
posters from the poster directory.

Examples:
  msearch cache purge                   # Delete everything
  msearch cache purge --older-than 24h  # Keep lookups from the last day`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}

			db, err := database.NewDB(database.Config{SQLitePath: opts.cfg.DBPath})
			if err != nil {
				return fmt.Errorf("opening lookup cache: %w", err)
			}
			defer db.Close()

			n, err := database.NewLookupCache(db, opts.cfg.CacheTTL).Purge(cmd.Context(), olderThan)
			if err != nil {
				return err
			}

			opts.logger.Debug("lookup cache purged", "deleted", n, "older_than", olderThan)
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d cached lookups from %s\n", n, db.Path())

			if _, err := os.Stat(opts.cfg.PosterDir); errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			posters, err := storage.NewLocalStorage(opts.cfg.PosterDir)
			if err != nil {
				return err
			}
			removed, err := storage.NewPosterStore(posters, nil).Purge(olderThan)
			if err != nil {
				return fmt.Errorf("purging posters: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d posters from %s\n", removed, opts.cfg.PosterDir)
			return nil
		},
	}
	purgeCmd.Flags().Duration("older-than", 0, "only purge lookups older than this (0 purges everything)")

	cacheCmd.AddCommand(purgeCmd)
	return cacheCmd
}

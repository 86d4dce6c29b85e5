package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kdimtricp/moviesearch/internal/database"
	"github.com/kdimtricp/moviesearch/internal/models"
	"github.com/kdimtricp/moviesearch/internal/pipeline"
	"github.com/kdimtricp/moviesearch/internal/search"
)

func newSearchCmd(opts *options) *cobra.Command {
	var (
		minRating string
		sortDir   string
		noCache   bool
	)

	cmd := &cobra.Command{
		Use:   "search <title>",
		Short: "Look a movie title up and print the matches",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, err := pipeline.ParseMinRating(minRating)
			if err != nil {
				return err
			}
			dir, err := pipeline.ParseSortDirection(sortDir)
			if err != nil {
				return err
			}
			return runSearch(cmd, opts, strings.Join(args, " "), threshold, dir, noCache)
		},
	}

	cmd.Flags().StringVar(&minRating, "min-rating", "0", "only show movies rated at least this (0-10, 0 shows all)")
	cmd.Flags().StringVar(&sortDir, "sort", "desc", "rating order: desc or asc")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "always ask OMDb instead of the lookup cache")

	return cmd
}

func runSearch(cmd *cobra.Command, opts *options, query string, minRating float64, dir pipeline.SortDirection, noCache bool) error {
	if err := opts.cfg.Validate(); err != nil {
		return err
	}

	searcher, cleanup, err := opts.searcher(noCache)
	if err != nil {
		return err
	}
	defer cleanup()

	p := pipeline.New(searcher,
		pipeline.WithLogger(opts.logger),
		pipeline.WithLookupTimeout(opts.cfg.LookupTimeout),
	)
	defer p.Close()

	if err := p.SetMinRating(minRating); err != nil {
		return err
	}
	p.SetSortDirection(dir)

	wait := opts.cfg.LookupTimeout + opts.cfg.LookupTimeout/2
	if wait <= 0 {
		wait = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()

	st, err := p.Wait(ctx, p.Submit(query))
	if err != nil {
		return fmt.Errorf("waiting for results: %w", err)
	}

	out := cmd.OutOrStdout()
	switch st.Status {
	case pipeline.StatusIdle:
		return errors.New("enter a movie title to search for")
	case pipeline.StatusFailed:
		return errors.New(st.Err)
	}

	if len(st.Results) == 0 {
		fmt.Fprintln(out, "No movies found. Try a different search term.")
		return nil
	}

	view := st.View()
	if len(view) == 0 {
		fmt.Fprintln(out, "No movies match the selected rating.")
		return nil
	}

	table := NewTable(out, []string{"ID", "Title", "Year", "Rating", "Poster"})
	for _, m := range view {
		table.AddRow([]string{m.ID, m.Title, m.Year, m.Rating.String(), posterColumn(m)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d of %d results (min rating %s, %s)\n", len(view), len(st.Results), formatMinRating(st.MinRating), st.Sort)
	return nil
}

// searcher builds the OMDb client, wrapped in the sqlite lookup cache unless
// noCache is set. The returned cleanup releases the database.
func (o *options) searcher(noCache bool) (search.Searcher, func(), error) {
	opts := []search.OMDbOption{
		search.WithBaseURL(o.cfg.OMDbBaseURL),
		search.WithRateLimit(o.cfg.OMDbRatePerSecond, max(1, int(o.cfg.OMDbRatePerSecond))),
		search.WithLogger(o.logger),
	}
	if o.cfg.EnrichRatings {
		opts = append(opts, search.WithRatingEnrichment(4))
	}
	client := search.NewOMDbClient(o.cfg.OMDbAPIKey, opts...)

	if noCache {
		return client, func() {}, nil
	}

	db, err := database.NewDB(database.Config{SQLitePath: o.cfg.DBPath})
	if err != nil {
		return nil, nil, fmt.Errorf("opening lookup cache: %w", err)
	}
	cached := search.NewCachedSearcher(client, database.NewLookupCache(db, o.cfg.CacheTTL), o.cfg.LookupTimeout, o.logger)
	return cached, func() { db.Close() }, nil
}

func posterColumn(m models.Movie) string {
	if !m.HasPoster() {
		return models.NoPoster
	}
	return m.PosterURL
}

func formatMinRating(v float64) string {
	if v <= 0 {
		return "all"
	}
	return fmt.Sprintf("%g+", v)
}

package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kdimtricp/moviesearch/internal/database"
	"github.com/kdimtricp/moviesearch/internal/metrics"
	"github.com/kdimtricp/moviesearch/internal/models"
)

// Cache is the storage CachedSearcher reads through.
type Cache interface {
	Get(ctx context.Context, query string) ([]models.Movie, error)
	Put(ctx context.Context, query string, movies []models.Movie) error
}

// CachedSearcher serves repeated queries from a cache and collapses
// identical concurrent lookups into one upstream call. Failures are never cached.
type CachedSearcher struct {
	next    Searcher
	cache   Cache
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

func NewCachedSearcher(next Searcher, cache Cache, timeout time.Duration, logger *slog.Logger) *CachedSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSearcher{
		next:    next,
		cache:   cache,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *CachedSearcher) Search(ctx context.Context, query string) ([]models.Movie, error) {
	key := database.CacheKey(query)

	movies, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheTotal.WithLabelValues("hit").Inc()
		return movies, nil
	case errors.Is(err, database.ErrCacheMiss):
		metrics.CacheTotal.WithLabelValues("miss").Inc()
	default:
		s.logger.WarnContext(ctx, "lookup cache read failed", "query", query, "error", err)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// The shared call must outlive any single caller's cancellation.
		callCtx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, s.timeout)
			defer cancel()
		}

		res, err := s.lookup(callCtx, query)
		if err != nil {
			return nil, err
		}
		if !res.Complete {
			s.logger.InfoContext(callCtx, "incomplete lookup not cached", "query", query)
			return res.Movies, nil
		}
		if err := s.cache.Put(callCtx, key, res.Movies); err != nil {
			s.logger.WarnContext(callCtx, "lookup cache write failed", "query", query, "error", err)
		}
		return res.Movies, nil
	})

	select {
	case <-ctx.Done():
		return nil, &LookupError{Query: query, Message: contextMessage(ctx.Err(), msgCancelled), Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.DebugContext(ctx, "lookup shared with concurrent caller", "query", query)
		}
		return cloneMovies(res.Val.([]models.Movie)), nil
	}
}

func (s *CachedSearcher) lookup(ctx context.Context, query string) (Result, error) {
	if rs, ok := s.next.(ResultSearcher); ok {
		return rs.SearchResult(ctx, query)
	}
	movies, err := s.next.Search(ctx, query)
	if err != nil {
		return Result{}, err
	}
	return Result{Movies: movies, Complete: true}, nil
}

func cloneMovies(in []models.Movie) []models.Movie {
	out := make([]models.Movie, len(in))
	copy(out, in)
	return out
}

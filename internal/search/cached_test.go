package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/moviesearch/internal/database"
	"github.com/kdimtricp/moviesearch/internal/models"
)

func newSQLiteCache(t *testing.T) *database.LookupCache {
	t.Helper()
	db, err := database.NewDB(database.Config{SQLitePath: filepath.Join(t.TempDir(), "cache.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewLookupCache(db, time.Hour)
}

func TestCachedSearcher_ServesRepeatsFromCache(t *testing.T) {
	var calls atomic.Int32
	upstream := SearcherFunc(func(ctx context.Context, q string) ([]models.Movie, error) {
		calls.Add(1)
		return []models.Movie{
			models.NewMovie("tt0133093", "The Matrix", "1999", "https://img/matrix.jpg", models.KnownRating(8.7)),
		}, nil
	})

	s := NewCachedSearcher(upstream, newSQLiteCache(t), time.Second, nil)

	first, err := s.Search(context.Background(), "The Matrix")
	require.NoError(t, err)
	second, err := s.Search(context.Background(), "  the matrix ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, models.KnownRating(8.7), second[0].Rating)
}

func TestCachedSearcher_DoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	upstream := SearcherFunc(func(ctx context.Context, q string) ([]models.Movie, error) {
		if calls.Add(1) == 1 {
			return nil, &LookupError{Query: q, Message: "Movie not found!"}
		}
		return []models.Movie{}, nil
	})

	s := NewCachedSearcher(upstream, newSQLiteCache(t), time.Second, nil)

	_, err := s.Search(context.Background(), "heat")
	require.ErrorIs(t, err, ErrLookupFailed)

	movies, err := s.Search(context.Background(), "heat")
	require.NoError(t, err)
	assert.Empty(t, movies)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedSearcher_CollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	upstream := SearcherFunc(func(ctx context.Context, q string) ([]models.Movie, error) {
		calls.Add(1)
		<-release
		return []models.Movie{models.NewMovie("tt1", "Heat", "1995", "N/A", models.KnownRating(8.3))}, nil
	})

	s := NewCachedSearcher(upstream, newSQLiteCache(t), time.Second, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]models.Movie, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = s.Search(context.Background(), "heat")
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
	}
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, query string) ([]models.Movie, error) {
	return nil, errors.New("disk on fire")
}

func (brokenCache) Put(ctx context.Context, query string, movies []models.Movie) error {
	return errors.New("disk on fire")
}

func TestCachedSearcher_CacheErrorsFallThrough(t *testing.T) {
	upstream := SearcherFunc(func(ctx context.Context, q string) ([]models.Movie, error) {
		return []models.Movie{models.NewMovie("tt1", "Up", "2009", "N/A", models.UnknownRating())}, nil
	})

	s := NewCachedSearcher(upstream, brokenCache{}, time.Second, nil)

	movies, err := s.Search(context.Background(), "up")
	require.NoError(t, err)
	assert.Len(t, movies, 1)
}

func TestCachedSearcher_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	upstream := SearcherFunc(func(ctx context.Context, q string) ([]models.Movie, error) {
		<-release
		return nil, nil
	})

	s := NewCachedSearcher(upstream, newSQLiteCache(t), time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Search(ctx, "vertigo")
	assert.ErrorIs(t, err, ErrLookupFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "The search took too long. Please try again.", DisplayMessage(err))
}

func TestCachedSearcher_DoesNotCacheIncompleteEnrichment(t *testing.T) {
	var searchCalls, detailCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("s") != "" {
			searchCalls.Add(1)
			fmt.Fprint(w, `{"Response":"True","Search":[
				{"imdbID":"tt0078748","Title":"Alien","Year":"1979","Poster":"N/A"},
				{"imdbID":"tt0090605","Title":"Aliens","Year":"1986","Poster":"N/A"}
			]}`)
			return
		}
		detailCalls.Add(1)
		fmt.Fprintf(w, `{"Response":"True","imdbID":%q,"imdbRating":"8.4"}`, q.Get("i"))
	}))
	defer server.Close()

	cache := newSQLiteCache(t)

	// One token per second: the search takes it and every detail fetch would
	// have to wait past the lookup deadline.
	starved := NewOMDbClient("test-key",
		WithBaseURL(server.URL),
		WithRateLimit(1, 1),
		WithRatingEnrichment(4),
	)
	movies, err := NewCachedSearcher(starved, cache, 200*time.Millisecond, nil).Search(context.Background(), "alien")
	require.NoError(t, err)
	require.Len(t, movies, 2)
	assert.False(t, movies[0].Rating.Known)
	assert.Zero(t, detailCalls.Load())

	_, err = cache.Get(context.Background(), "alien")
	assert.ErrorIs(t, err, database.ErrCacheMiss)

	recovered := NewOMDbClient("test-key",
		WithBaseURL(server.URL),
		WithRateLimit(0, 0),
		WithRatingEnrichment(4),
	)
	movies, err = NewCachedSearcher(recovered, cache, time.Second, nil).Search(context.Background(), "alien")
	require.NoError(t, err)
	assert.Equal(t, int32(2), searchCalls.Load())
	assert.Equal(t, int32(2), detailCalls.Load())
	for _, m := range movies {
		assert.Equal(t, models.KnownRating(8.4), m.Rating, m.ID)
	}

	cached, err := cache.Get(context.Background(), "alien")
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kdimtricp/moviesearch/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

// LookupCache stores successful lookups keyed by normalised query text.
type LookupCache struct {
	db  *DB
	ttl time.Duration
	now func() time.Time
}

func NewLookupCache(db *DB, ttl time.Duration) *LookupCache {
	return &LookupCache{db: db, ttl: ttl, now: time.Now}
}

// CacheKey normalises a query so "Batman" and " batman " share an entry.
func CacheKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

func (c *LookupCache) Get(ctx context.Context, query string) ([]models.Movie, error) {
	var (
		raw       string
		fetchedAt int64
	)
	err := c.db.conn.QueryRowContext(ctx,
		`SELECT results, fetched_at FROM lookups WHERE query_key = ?`,
		CacheKey(query),
	).Scan(&raw, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached lookup: %w", err)
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(0, fetchedAt)) > c.ttl {
		return nil, ErrCacheMiss
	}

	var movies []models.Movie
	if err := json.Unmarshal([]byte(raw), &movies); err != nil {
		return nil, fmt.Errorf("failed to decode cached lookup: %w", err)
	}
	if movies == nil {
		movies = []models.Movie{}
	}

	return movies, nil
}

func (c *LookupCache) Put(ctx context.Context, query string, movies []models.Movie) error {
	if movies == nil {
		movies = []models.Movie{}
	}
	raw, err := json.Marshal(movies)
	if err != nil {
		return fmt.Errorf("failed to encode lookup: %w", err)
	}

	_, err = c.db.conn.ExecContext(ctx, `
		INSERT INTO lookups (query_key, query, results, result_count, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(query_key) DO UPDATE SET
			query = excluded.query,
			results = excluded.results,
			result_count = excluded.result_count,
			fetched_at = excluded.fetched_at`,
		CacheKey(query), strings.TrimSpace(query), string(raw), len(movies), c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store lookup: %w", err)
	}
	return nil
}

// Purge deletes entries fetched more than olderThan ago and reports how many
// were removed. A zero olderThan clears the cache.
func (c *LookupCache) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := c.now().Add(-olderThan).UnixNano()
	if olderThan <= 0 {
		cutoff = c.now().UnixNano() + 1
	}

	res, err := c.db.conn.ExecContext(ctx, `DELETE FROM lookups WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge lookups: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged lookups: %w", err)
	}
	return n, nil
}

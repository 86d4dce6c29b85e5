package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/kdimtricp/moviesearch/internal/models"
)

// ErrLookupFailed is matched by every error a Searcher returns.
var ErrLookupFailed = errors.New("lookup failed")

const (
	msgTimeout   = "The search took too long. Please try again."
	msgCancelled = "The search was cancelled."
)

// Searcher performs one lookup against a movie search backend.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.Movie, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string) ([]models.Movie, error)

func (f SearcherFunc) Search(ctx context.Context, query string) ([]models.Movie, error) {
	return f(ctx, query)
}

// Result is the outcome of a lookup. Complete is false when some per-movie
// detail fetches failed, so the movies carry less than the backend offers.
type Result struct {
	Movies   []models.Movie
	Complete bool
}

// ResultSearcher is implemented by searchers that can report partial results.
type ResultSearcher interface {
	SearchResult(ctx context.Context, query string) (Result, error)
}

// LookupError is the single failure kind of a lookup. Message is safe to show
// to the user; Err keeps the underlying cause for logs.
type LookupError struct {
	Query      string
	StatusCode int
	Message    string
	Err        error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup %q: %s: %v", e.Query, e.Message, e.Err)
	}
	return fmt.Sprintf("lookup %q: %s", e.Query, e.Message)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookupFailed
}

// DisplayMessage returns the user-facing text for any lookup error.
func DisplayMessage(err error) string {
	var lerr *LookupError
	if errors.As(err, &lerr) && lerr.Message != "" {
		return lerr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}
	return "Something went wrong while searching. Please try again."
}

// contextMessage maps an interrupted lookup to its user text, or fallback
// when err does not come from a context.
func contextMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, context.Canceled):
		return msgCancelled
	}
	return fallback
}

package pipeline

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/kdimtricp/moviesearch/internal/models"
)

var ErrInvalidRating = errors.New("minimum rating must be between 0 and 10")

type SortDirection int

const (
	Descending SortDirection = iota
	Ascending
)

func (d SortDirection) String() string {
	if d == Ascending {
		return "asc"
	}
	return "desc"
}

// ParseSortDirection accepts the values the UI and CLI send. Empty means Descending.
func ParseSortDirection(s string) (SortDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "desc", "descending", "highest":
		return Descending, nil
	case "asc", "ascending", "lowest", "lower":
		return Ascending, nil
	default:
		return Descending, fmt.Errorf("unknown sort direction %q", s)
	}
}

// ParseMinRating reads a threshold. Empty and "all" mean no filtering.
func ParseMinRating(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || strings.HasPrefix(s, "all") {
		return 0, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "+"), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	if err := validateMinRating(v); err != nil {
		return 0, err
	}
	return v, nil
}

func validateMinRating(v float64) error {
	if math.IsNaN(v) || v < models.MinRatingValue || v > models.MaxRatingValue {
		return ErrInvalidRating
	}
	return nil
}

// DeriveView filters and sorts movies without touching the input slice.
//
// A threshold of 0 keeps everything, including unknown ratings. Above 0 only
// known ratings at or over the threshold survive. Sorting is stable, so equal
// ratings keep their fetch order; unknown ratings go last in either direction.
func DeriveView(movies []models.Movie, minRating float64, dir SortDirection) []models.Movie {
	out := make([]models.Movie, 0, len(movies))
	for _, m := range movies {
		if minRating > 0 && (!m.Rating.Known || m.Rating.Value < minRating) {
			continue
		}
		out = append(out, m)
	}

	slices.SortStableFunc(out, func(a, b models.Movie) int {
		return compareRatings(a.Rating, b.Rating, dir)
	})

	return out
}

func compareRatings(a, b models.Rating, dir SortDirection) int {
	switch {
	case !a.Known && !b.Known:
		return 0
	case !a.Known:
		return 1
	case !b.Known:
		return -1
	}
	c := cmp.Compare(a.Value, b.Value)
	if dir == Descending {
		return -c
	}
	return c
}

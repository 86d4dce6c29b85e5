package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NoPoster is the value the search API sends when a title has no poster.
const NoPoster = "N/A"

const (
	MinRatingValue = 0.0
	MaxRatingValue = 10.0
)

type Movie struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Year      string `json:"year"`
	PosterURL string `json:"poster_url,omitempty"`
	Rating    Rating `json:"rating"`
}

func NewMovie(id, title, year, poster string, rating Rating) Movie {
	if strings.TrimSpace(poster) == NoPoster {
		poster = ""
	}
	return Movie{
		ID:        id,
		Title:     title,
		Year:      year,
		PosterURL: strings.TrimSpace(poster),
		Rating:    rating,
	}
}

func (m Movie) HasPoster() bool {
	return m.PosterURL != ""
}

// Rating is an optional score in [0, 10]. The zero value is unknown.
type Rating struct {
	Value float64
	Known bool
}

func KnownRating(v float64) Rating {
	return Rating{Value: v, Known: true}
}

func UnknownRating() Rating {
	return Rating{}
}

// ParseRating accepts the forms the upstream feed uses: "8.8", "N/A" or "".
func ParseRating(s string) Rating {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "N/A") {
		return UnknownRating()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return UnknownRating()
	}
	return clampRating(v)
}

func clampRating(v float64) Rating {
	if math.IsNaN(v) || v < MinRatingValue || v > MaxRatingValue {
		return UnknownRating()
	}
	return KnownRating(v)
}

func (r Rating) String() string {
	if !r.Known {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", r.Value)
}

func (r Rating) MarshalJSON() ([]byte, error) {
	if !r.Known {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON takes a number, a numeric string, "N/A" or null.
func (r *Rating) UnmarshalJSON(data []byte) error {
	switch {
	case len(data) == 0 || string(data) == "null":
		*r = UnknownRating()
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ParseRating(s)
		return nil
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			*r = UnknownRating()
			return nil
		}
		*r = clampRating(v)
		return nil
	}
}

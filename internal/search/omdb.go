package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kdimtricp/moviesearch/internal/models"
)

const (
	DefaultOMDbBaseURL = "https://www.omdbapi.com"

	defaultRatePerSecond = 5
	defaultEnrichWorkers = 4
	maxErrorBodyBytes    = 4 << 10
)

type OMDbClient struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
	enrichRatings bool
	enrichWorkers int
}

type OMDbOption func(*OMDbClient)

// WithBaseURL points the client at another host, mostly for tests.
func WithBaseURL(baseURL string) OMDbOption {
	return func(c *OMDbClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(hc *http.Client) OMDbOption {
	return func(c *OMDbClient) {
		c.httpClient = hc
	}
}

// WithRateLimit caps outbound requests. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) OMDbOption {
	return func(c *OMDbClient) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithLogger(logger *slog.Logger) OMDbOption {
	return func(c *OMDbClient) {
		c.logger = logger
	}
}

// WithRatingEnrichment makes Search fetch each result's detail record to fill
// in ratings the search endpoint leaves out.
func WithRatingEnrichment(workers int) OMDbOption {
	return func(c *OMDbClient) {
		if workers < 1 {
			workers = defaultEnrichWorkers
		}
		c.enrichRatings = true
		c.enrichWorkers = workers
	}
}

type SearchResponse struct {
	Search       []SearchItem `json:"Search"`
	TotalResults string       `json:"totalResults"`
	Response     string       `json:"Response"`
	Error        string       `json:"Error"`
}

type SearchItem struct {
	ImdbID     string        `json:"imdbID"`
	Title      string        `json:"Title"`
	Year       string        `json:"Year"`
	Type       string        `json:"Type"`
	Poster     string        `json:"Poster"`
	ImdbRating models.Rating `json:"imdbRating"`
}

type MovieDetails struct {
	ImdbID     string        `json:"imdbID"`
	Title      string        `json:"Title"`
	Year       string        `json:"Year"`
	Poster     string        `json:"Poster"`
	Plot       string        `json:"Plot"`
	ImdbRating models.Rating `json:"imdbRating"`
	Response   string        `json:"Response"`
	Error      string        `json:"Error"`
}

func NewOMDbClient(apiKey string, opts ...OMDbOption) *OMDbClient {
	c := &OMDbClient{
		apiKey:  apiKey,
		baseURL: DefaultOMDbBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRatePerSecond),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search implements Searcher. Every error it returns is a *LookupError.
func (c *OMDbClient) Search(ctx context.Context, query string) ([]models.Movie, error) {
	res, err := c.SearchResult(ctx, query)
	if err != nil {
		return nil, err
	}
	return res.Movies, nil
}

// SearchResult implements ResultSearcher. The result is incomplete when
// rating enrichment could not fetch every detail record.
func (c *OMDbClient) SearchResult(ctx context.Context, query string) (Result, error) {
	resp, err := c.SearchMovies(ctx, query)
	if err != nil {
		return Result{}, err
	}

	movies := make([]models.Movie, 0, len(resp.Search))
	seen := make(map[string]bool, len(resp.Search))
	for _, item := range resp.Search {
		if item.ImdbID != "" {
			if seen[item.ImdbID] {
				continue
			}
			seen[item.ImdbID] = true
		}
		movies = append(movies, models.NewMovie(item.ImdbID, item.Title, item.Year, item.Poster, item.ImdbRating))
	}

	res := Result{Movies: movies, Complete: true}
	if c.enrichRatings && len(movies) > 0 {
		if failed := c.enrich(ctx, movies); failed > 0 {
			c.logger.InfoContext(ctx, "rating enrichment incomplete", "query", query, "failed", failed, "total", len(movies))
			res.Complete = false
		}
	}

	return res, nil
}

// SearchMovies returns the raw search envelope for query.
func (c *OMDbClient) SearchMovies(ctx context.Context, query string) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("s", query)
	params.Set("page", "1")

	var result SearchResponse
	if err := c.get(ctx, query, params, &result); err != nil {
		return nil, err
	}

	if !strings.EqualFold(result.Response, "True") {
		msg := result.Error
		if msg == "" {
			msg = "No movies found."
		}
		return nil, &LookupError{Query: query, StatusCode: http.StatusOK, Message: msg}
	}

	return &result, nil
}

func (c *OMDbClient) GetMovie(ctx context.Context, imdbID string) (*MovieDetails, error) {
	params := url.Values{}
	params.Set("i", imdbID)

	var details MovieDetails
	if err := c.get(ctx, imdbID, params, &details); err != nil {
		return nil, err
	}

	if !strings.EqualFold(details.Response, "True") {
		return nil, &LookupError{Query: imdbID, StatusCode: http.StatusOK, Message: details.Error}
	}

	return &details, nil
}

// enrich fills unknown ratings from detail records and returns how many
// detail fetches failed.
func (c *OMDbClient) enrich(ctx context.Context, movies []models.Movie) int {
	var (
		g      errgroup.Group
		failed atomic.Int32
	)
	g.SetLimit(c.enrichWorkers)

	for i := range movies {
		if movies[i].Rating.Known || movies[i].ID == "" {
			continue
		}
		g.Go(func() error {
			details, err := c.GetMovie(ctx, movies[i].ID)
			if err != nil {
				failed.Add(1)
				c.logger.DebugContext(ctx, "rating enrichment failed", "imdb_id", movies[i].ID, "error", err)
				return nil
			}
			movies[i].Rating = details.ImdbRating
			return nil
		})
	}

	_ = g.Wait()
	return int(failed.Load())
}

func (c *OMDbClient) get(ctx context.Context, key string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &LookupError{Query: key, Message: limiterMessage(ctx), Err: fmt.Errorf("rate limiter: %w", err)}
	}

	params.Set("apikey", c.apiKey)
	fullURL := fmt.Sprintf("%s/?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return &LookupError{Query: key, Message: "Could not build the search request.", Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	c.logger.DebugContext(ctx, "omdb request", "url", redactKey(fullURL))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &LookupError{
			Query:   key,
			Message: contextMessage(err, "Could not reach the movie service. Please try again."),
			Err:     fmt.Errorf("executing request: %w", err),
		}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "omdb response",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &LookupError{
			Query:      key,
			StatusCode: resp.StatusCode,
			Message:    statusMessage(resp),
			Err:        fmt.Errorf("OMDb API returned status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &LookupError{Query: key, StatusCode: resp.StatusCode, Message: "The movie service sent an unreadable response.", Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// limiterMessage explains a rate limiter refusal. The limiter refuses up
// front when the wait would outlast the deadline, before ctx itself expires.
func limiterMessage(ctx context.Context) string {
	if err := ctx.Err(); err != nil {
		return contextMessage(err, msgCancelled)
	}
	if _, ok := ctx.Deadline(); ok {
		return msgTimeout
	}
	return msgCancelled
}

// statusMessage prefers the API's own error text, which OMDb also sends on
// non-2xx responses such as an invalid key.
func statusMessage(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	var envelope struct {
		Error string `json:"Error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	return fmt.Sprintf("The movie service returned an error (HTTP %d).", resp.StatusCode)
}

func redactKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

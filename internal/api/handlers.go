package api

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kdimtricp/moviesearch/internal/models"
	"github.com/kdimtricp/moviesearch/internal/pipeline"
	"github.com/kdimtricp/moviesearch/internal/search"
	"github.com/kdimtricp/moviesearch/internal/storage"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var ratingOptions = []struct{ Value, Label string }{
	{"0", "ALL Ratings"},
	{"5", "5+"},
	{"6", "6+"},
	{"7", "7+"},
	{"8", "8+"},
	{"9", "9+"},
}

type App struct {
	Searcher      search.Searcher
	Sessions      *SessionStore
	Posters       *storage.PosterStore
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (app *App) HomeHandler(w http.ResponseWriter, r *http.Request) {
	p := app.Sessions.Get(w, r)
	app.renderPage(w, p.Snapshot())
}

// SearchHandler submits the form's query and waits, up to the lookup timeout,
// for the outcome. A lookup still running afterwards renders as Loading and
// the partial polls /results.
func (app *App) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		app.renderError(w, "Invalid search form")
		return
	}

	p := app.Sessions.Get(w, r)
	ticket := p.Submit(r.PostFormValue("search"))

	ctx, cancel := context.WithTimeout(r.Context(), app.waitTimeout())
	defer cancel()
	st, _ := p.Wait(ctx, ticket)

	if isHTMX(r) {
		app.renderResults(w, st)
		return
	}
	app.renderPage(w, st)
}

// ResultsHandler applies the rating controls and re-renders the results.
func (app *App) ResultsHandler(w http.ResponseWriter, r *http.Request) {
	p := app.Sessions.Get(w, r)

	q := r.URL.Query()
	if q.Has("min_rating") {
		minRating, err := pipeline.ParseMinRating(q.Get("min_rating"))
		if err != nil {
			app.renderError(w, err.Error())
			return
		}
		if err := p.SetMinRating(minRating); err != nil {
			app.renderError(w, err.Error())
			return
		}
	}
	if q.Has("sort") {
		dir, err := pipeline.ParseSortDirection(q.Get("sort"))
		if err != nil {
			app.renderError(w, err.Error())
			return
		}
		p.SetSortDirection(dir)
	}

	st := p.Snapshot()
	if isHTMX(r) {
		app.renderResults(w, st)
		return
	}
	app.renderPage(w, st)
}

type apiMovie struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Year      string        `json:"year"`
	PosterURL string        `json:"poster_url,omitempty"`
	HasPoster bool          `json:"has_poster"`
	Rating    models.Rating `json:"rating"`
}

type apiSearchResponse struct {
	Query     string     `json:"query"`
	State     string     `json:"state"`
	Error     string     `json:"error,omitempty"`
	MinRating float64    `json:"min_rating"`
	Sort      string     `json:"sort"`
	Total     int        `json:"total"`
	Movies    []apiMovie `json:"movies"`
}

// APISearchHandler runs a one-shot pipeline for scripted clients.
func (app *App) APISearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	minRating, err := pipeline.ParseMinRating(q.Get("min_rating"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := pipeline.ParseSortDirection(q.Get("sort"))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := pipeline.New(app.Searcher, pipeline.WithLogger(app.logger()), pipeline.WithLookupTimeout(app.LookupTimeout))
	defer p.Close()

	if err := p.SetMinRating(minRating); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.SetSortDirection(dir)

	ctx, cancel := context.WithTimeout(r.Context(), app.waitTimeout())
	defer cancel()

	st, err := p.Wait(ctx, p.Submit(q.Get("q")))
	if err != nil {
		jsonError(w, http.StatusGatewayTimeout, "search timed out")
		return
	}

	view := st.View()
	resp := apiSearchResponse{
		Query:     st.Query,
		State:     st.Status.String(),
		Error:     st.Err,
		MinRating: st.MinRating,
		Sort:      st.Sort.String(),
		Total:     len(st.Results),
		Movies:    make([]apiMovie, 0, len(view)),
	}
	for _, m := range view {
		resp.Movies = append(resp.Movies, apiMovie{
			ID:        m.ID,
			Title:     m.Title,
			Year:      m.Year,
			PosterURL: m.PosterURL,
			HasPoster: m.HasPoster(),
			Rating:    m.Rating,
		})
	}

	status := http.StatusOK
	if st.Status == pipeline.StatusFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// PosterHandler serves a poster for a movie in the caller's current results.
func (app *App) PosterHandler(w http.ResponseWriter, r *http.Request) {
	movieID := chi.URLParam(r, "id")
	if movieID == "" || app.Posters == nil {
		http.NotFound(w, r)
		return
	}

	p := app.Sessions.Get(w, r)
	var found *models.Movie
	for _, m := range p.Snapshot().Results {
		if m.ID == movieID {
			found = &m
			break
		}
	}
	if found == nil || !found.HasPoster() {
		http.NotFound(w, r)
		return
	}

	file, contentType, err := app.Posters.Open(r.Context(), movieID, found.PosterURL)
	if err != nil {
		app.logger().Warn("poster unavailable", "imdb_id", movieID, "error", err)
		http.Error(w, "Poster unavailable", http.StatusBadGateway)
		return
	}
	defer file.Close()

	modTime := time.Time{}
	if st, ok := file.(interface{ Stat() (os.FileInfo, error) }); ok {
		if info, err := st.Stat(); err == nil {
			modTime = info.ModTime()
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	http.ServeContent(w, r, movieID, modTime, file)
}

type option struct {
	Value    string
	Label    string
	Selected bool
}

type movieCard struct {
	ID        string
	Title     string
	Year      string
	HasPoster bool
	PosterSrc string
	Rating    string
}

type resultsData struct {
	Query         string
	Loading       bool
	Searched      bool
	Error         string
	Movies        []models.Movie
	Cards         []movieCard
	RatingOptions []option
	SortOptions   []option
}

type pageData struct {
	Title   string
	Results resultsData
}

func (app *App) resultsData(st pipeline.State) resultsData {
	data := resultsData{
		Query:    st.Query,
		Loading:  st.Status == pipeline.StatusLoading,
		Searched: st.Status == pipeline.StatusReady,
		Error:    st.Err,
		Movies:   st.Results,
	}

	for _, m := range st.View() {
		card := movieCard{
			ID:        m.ID,
			Title:     m.Title,
			Year:      m.Year,
			HasPoster: m.HasPoster(),
			Rating:    m.Rating.String(),
		}
		if card.HasPoster {
			card.PosterSrc = m.PosterURL
			if app.Posters != nil && m.ID != "" {
				card.PosterSrc = "/posters/" + m.ID
			}
		}
		data.Cards = append(data.Cards, card)
	}

	for _, o := range ratingOptions {
		v, _ := strconv.ParseFloat(o.Value, 64)
		data.RatingOptions = append(data.RatingOptions, option{Value: o.Value, Label: o.Label, Selected: v == st.MinRating})
	}
	data.SortOptions = []option{
		{Value: "desc", Label: "Highest First", Selected: st.Sort == pipeline.Descending},
		{Value: "asc", Label: "Lower First", Selected: st.Sort == pipeline.Ascending},
	}

	return data
}

func (app *App) renderPage(w http.ResponseWriter, st pipeline.State) {
	data := pageData{Title: "Movie Search", Results: app.resultsData(st)}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "base.html", data); err != nil {
		app.logger().Error("rendering page", "error", err)
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
	}
}

func (app *App) renderResults(w http.ResponseWriter, st pipeline.State) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "results", app.resultsData(st)); err != nil {
		app.logger().Error("rendering results", "error", err)
		http.Error(w, "Error rendering template", http.StatusInternalServerError)
	}
}

func (app *App) renderError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `<div class="alert alert-error">%s</div>`, template.HTMLEscapeString(message))
}

func (app *App) waitTimeout() time.Duration {
	if app.LookupTimeout > 0 {
		return app.LookupTimeout
	}
	return 10 * time.Second
}

func (app *App) logger() *slog.Logger {
	if app.Logger != nil {
		return app.Logger
	}
	return slog.Default()
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

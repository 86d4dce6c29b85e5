package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", app.HomeHandler)
	r.Get("/ping", PingHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/search", app.SearchHandler)
	r.Get("/results", app.ResultsHandler)
	r.Get("/posters/{id}", app.PosterHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/search", app.APISearchHandler)
	})

	return r
}

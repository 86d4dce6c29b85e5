package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/moviesearch/internal/api"
	"github.com/kdimtricp/moviesearch/internal/config"
	"github.com/kdimtricp/moviesearch/internal/database"
	"github.com/kdimtricp/moviesearch/internal/pipeline"
	"github.com/kdimtricp/moviesearch/internal/search"
	"github.com/kdimtricp/moviesearch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.NewDB(database.Config{SQLitePath: cfg.DBPath})
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := []search.OMDbOption{
		search.WithBaseURL(cfg.OMDbBaseURL),
		search.WithRateLimit(cfg.OMDbRatePerSecond, max(1, int(cfg.OMDbRatePerSecond))),
		search.WithLogger(logger),
	}
	if cfg.EnrichRatings {
		opts = append(opts, search.WithRatingEnrichment(4))
	}
	omdb := search.NewOMDbClient(cfg.OMDbAPIKey, opts...)
	searcher := search.NewCachedSearcher(omdb, database.NewLookupCache(db, cfg.CacheTTL), cfg.LookupTimeout, logger)

	posterStorage, err := storage.NewLocalStorage(cfg.PosterDir)
	if err != nil {
		logger.Error("Failed to initialize poster storage", "error", err)
		os.Exit(1)
	}

	sessions := api.NewSessionStore(cfg.SessionTTL, func() *pipeline.Pipeline {
		return pipeline.New(searcher,
			pipeline.WithLogger(logger),
			pipeline.WithLookupTimeout(cfg.LookupTimeout),
		)
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx, time.Minute)

	app := &api.App{
		Searcher:      searcher,
		Sessions:      sessions,
		Posters:       storage.NewPosterStore(posterStorage, nil),
		LookupTimeout: cfg.LookupTimeout,
		Logger:        logger,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting",
		"port", cfg.Port,
		"omdb_base_url", cfg.OMDbBaseURL,
		"database", cfg.DBPath,
		"poster_dir", cfg.PosterDir,
		"enrich_ratings", cfg.EnrichRatings,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "error", err)
		}
	}

	sessions.Close()
}

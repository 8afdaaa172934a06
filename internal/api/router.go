package api

import (
	"embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/linkwatcher/beacon/internal/config"
	"github.com/linkwatcher/beacon/internal/database"
	"github.com/linkwatcher/beacon/internal/enrichment"
	"github.com/linkwatcher/beacon/internal/identification"
)

//go:embed analytics.js
var collectorJS embed.FS

// NewRouter creates the HTTP router
func NewRouter(db *database.DB, enricher *enrichment.Enricher, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// Fallback identity for batches without client-generated IDs
	idGen := identification.New(cfg.SecretKey, cfg.ActivityWindowMinutes)

	h := &Handlers{
		db:       db,
		enricher: enricher,
		idGen:    idGen,
		cfg:      cfg,
	}

	// Collector script - serve at a clean URL
	r.Get("/analytics.js", h.ServeCollectorScript)

	// Health check
	r.Get("/health", h.Health)

	// Version endpoint (public)
	r.Get("/api/version", h.GetVersion)

	// Dashboard-facing reads honor the configured origins
	readsCORS := cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r.Route("/api/analytics", func(r chi.Router) {
		// Ingestion must work cross-origin: the collector is usually served
		// from a different origin than this endpoint. The CORS handler sits
		// on its own sub-router so preflights are answered before method
		// matching can 405 them.
		r.Route("/track", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
				MaxAge:         300,
			}))
			r.With(RateLimit(100, time.Minute)).Post("/", h.Track)
		})

		r.Route("/active-users", func(r chi.Router) {
			r.Use(readsCORS)
			r.Get("/", h.ActiveUsers)
		})
		r.Route("/stream", func(r chi.Router) {
			r.Use(readsCORS)
			r.Get("/", h.EventStream)
		})
	})

	return r
}

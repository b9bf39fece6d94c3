// Package api exposes the scraping service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/sells-group/scraping-service/internal/metrics"
	"github.com/sells-group/scraping-service/internal/scraping"
)

const (
	serviceName    = "scraping-service"
	displayName    = "Scraping Service"
	maxRequestBody = 1 << 20
)

// Scraper is the subset of scraping.Service the handlers call.
type Scraper interface {
	Scrape(ctx context.Context, in scraping.ScrapeInput) (*scraping.ScrapeOutput, error)
	Map(ctx context.Context, in scraping.MapInput) (*scraping.MapOutput, error)
	GetResult(ctx context.Context, id string) (*scraping.ScrapeOutput, error)
	GetByURL(ctx context.Context, rawURL string) (*scraping.ByURLOutput, error)
}

// Config holds server settings.
type Config struct {
	// APIKey is required in X-API-Key on every route except /, /health and
	// /metrics. An empty key rejects all authenticated requests.
	APIKey         string
	CORSOrigins    []string
	Version        string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the scraping service.
type Server struct {
	router chi.Router
	svc    Scraper
	cfg    Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Scraper, cfg Config) *Server {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{svc: svc, cfg: cfg}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", "X-Source-Service"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	if cfg.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/", s.info)
	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(apiKeyMiddleware(cfg.APIKey))
		r.Post("/scrape", s.scrape)
		r.Get("/scrape/by-url", s.scrapeByURL)
		r.Get("/scrape/{id}", s.getResult)
		r.Post("/map", s.mapSite)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": displayName, "version": s.cfg.Version})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

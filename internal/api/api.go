// Package api serves persisted scores and run history as read-only JSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sudhirig/mfscore/internal/model"
	"github.com/sudhirig/mfscore/internal/store"
)

// Store is the read surface the API needs.
type Store interface {
	store.ScoreReader
	ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error)
	Ping(ctx context.Context) error
}

// Options configures the HTTP handler.
type Options struct {
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// RequestTimeout bounds each request's store calls.
	RequestTimeout time.Duration
}

// Server holds the handlers' dependencies.
type Server struct {
	store Store
	opts  Options
	log   *zap.Logger
}

// New creates a Server.
func New(st Store, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Server{
		store: st,
		opts:  opts,
		log:   zap.L().With(zap.String("component", "api")),
	}
}

// Handler returns the router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&logFormatter{log: s.log}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/scores", s.listScores)
	r.Get("/funds/{fundID}/score", s.fundScore)
	r.Get("/runs", s.listRuns)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

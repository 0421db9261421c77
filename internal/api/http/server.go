// Package http exposes C6 (retrieval) and C7 (health) over a thin chi REST
// surface — the CLI remains the primary caller per the external-interface
// design, this wrapper exists because C6/C7 are naturally HTTP-exposable
// and the teacher already carries chi for exactly this kind of service.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/banks1923/email-sync/internal/health"
	"github.com/banks1923/email-sync/internal/observability"
	"github.com/banks1923/email-sync/internal/retrieval"
)

// Server bundles the collaborators the REST surface fans requests out to.
type Server struct {
	logger *observability.Logger
	engine *retrieval.Engine
	health *health.Aggregator
}

// NewServer builds a chi handler serving /search/* (C6) and /health (C7).
func NewServer(logger *observability.Logger, engine *retrieval.Engine, agg *health.Aggregator, requestTimeout time.Duration) http.Handler {
	s := &Server{logger: logger, engine: engine, health: agg}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", s.handleHealth)
	r.Route("/search", func(r chi.Router) {
		r.Get("/semantic", s.handleSearch(s.engine.Semantic))
		r.Get("/literal", s.handleLiteral)
		r.Get("/hybrid", s.handleSearch(s.engine.Hybrid))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deep := r.URL.Query().Get("deep") == "true"
	report := s.health.Check(r.Context(), deep)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForHealth(report.Status))
	_ = json.NewEncoder(w).Encode(report)
}

func statusForHealth(status string) int {
	if status == health.StatusError {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func queryParams(r *http.Request) (query string, limit int, why bool) {
	query = r.URL.Query().Get("q")
	limit = 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	why = r.URL.Query().Get("why") == "true"
	return
}

func (s *Server) handleSearch(fn func(ctx context.Context, query string, limit int, filters retrieval.Filters, why bool) ([]retrieval.Hit, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, limit, why := queryParams(r)
		hits, err := fn(r.Context(), query, limit, retrieval.Filters{}, why)
		s.writeHits(w, hits, err)
	}
}

func (s *Server) handleLiteral(w http.ResponseWriter, r *http.Request) {
	query, limit, why := queryParams(r)
	hits, err := s.engine.Literal(r.Context(), query, limit, retrieval.Filters{}, nil, why)
	s.writeHits(w, hits, err)
}

func (s *Server) writeHits(w http.ResponseWriter, hits []retrieval.Hit, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		s.logger.Error().Err(err).Msg("search request failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	_ = json.NewEncoder(w).Encode(hits)
}

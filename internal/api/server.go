package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/cwbatch/internal/metrics"
	"github.com/MikeSquared-Agency/cwbatch/internal/tracker"
)

type Server struct {
	router  *chi.Mux
	http    *http.Server
	store   tracker.Store
	metrics *metrics.Metrics
}

// NewServer exposes tracked job state read-only. When apiToken is set the job
// routes require it as a bearer token.
func NewServer(port int, apiToken string, store tracker.Store, m *metrics.Metrics) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		store:   store,
		metrics: m,
	}

	router.Get("/health", s.health)
	router.Method(http.MethodGet, "/metrics", m.Handler())
	router.Route("/api/v1/jobs", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/", s.listJobs)
		r.Get("/{chunk}", s.getJob)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the expected bearer token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type jobsResponse struct {
	Jobs   []tracker.Record `json:"jobs"`
	Count  int              `json:"count"`
	States map[string]int   `json:"states"`
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("list jobs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list jobs"})
		return
	}
	if recs == nil {
		recs = []tracker.Record{}
	}

	states := make(map[string]int)
	for _, rec := range recs {
		states[string(rec.State)]++
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := recs[:0:0]
		for _, rec := range recs {
			if strings.EqualFold(string(rec.State), state) {
				filtered = append(filtered, rec)
			}
		}
		recs = filtered
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: recs, Count: len(recs), States: states})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	chunk := chi.URLParam(r, "chunk")
	rec, err := s.store.Get(r.Context(), chunk)
	if errors.Is(err, tracker.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		slog.Error("get job", "chunk", chunk, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

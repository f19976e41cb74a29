// Package server exposes the authenticated HTTP trigger surface for
// the poller.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rsswatcher/internal/model"
)

// PollRunner is the subset of the poller the trigger surface invokes.
type PollRunner interface {
	RunForUser(ctx context.Context, userID string) (model.RunStats, error)
	RunDue(ctx context.Context, now time.Time) (model.RunStats, error)
}

// Server serves the trigger endpoints. Invocations are expected to
// come from an authenticated periodic external trigger.
type Server struct {
	runner     PollRunner
	cronSecret string
	log        *slog.Logger
}

// New creates a Server. An empty cronSecret disables the trigger
// endpoints (they respond 500 until configured).
func New(runner PollRunner, cronSecret string, log *slog.Logger) *Server {
	return &Server{runner: runner, cronSecret: cronSecret, log: log}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Group(func(r chi.Router) {
		r.Use(s.requireCronSecret)
		r.Post("/internal/poll", s.handlePollDue)
		r.Post("/internal/poll/users/{userID}", s.handlePollUser)
	})

	return r
}

func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.cronSecret == "" {
			writeJSON(w, http.StatusInternalServerError, errorBody("CRON_SECRET is not configured"))
			return
		}
		auth := req.Header.Get("Authorization")
		want := "Bearer " + s.cronSecret
		if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePollDue(w http.ResponseWriter, req *http.Request) {
	stats, err := s.runner.RunDue(req.Context(), time.Now().UTC())
	if err != nil {
		s.log.Error("batch poll failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("poll failed"))
		return
	}
	writeJSON(w, http.StatusOK, statsBody(stats))
}

func (s *Server) handlePollUser(w http.ResponseWriter, req *http.Request) {
	userID := chi.URLParam(req, "userID")
	stats, err := s.runner.RunForUser(req.Context(), userID)
	if err != nil {
		s.log.Error("user poll failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("poll failed"))
		return
	}
	writeJSON(w, http.StatusOK, statsBody(stats))
}

func statsBody(stats model.RunStats) map[string]any {
	return map[string]any{"ok": true, "stats": stats}
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

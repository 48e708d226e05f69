// Package web exposes the engine's HTTP surface: an internal trigger endpoint
// for external cron infrastructure and a small job management API.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"crewcall/client"
	"crewcall/internal/models"
	"crewcall/internal/state"
	"crewcall/internal/store"
)

type Server struct {
	client   *client.SchedulerClient
	runToken string
	logger   *zap.Logger
}

func NewServer(c *client.SchedulerClient, runToken string, logger *zap.Logger) *Server {
	return &Server{client: c, runToken: runToken, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/internal/run-scheduler", s.handleRunScheduler)

	r.Route("/orgs/{orgID}", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/{jobID}/enable", s.setEnabled(true))
		r.Post("/jobs/{jobID}/disable", s.setEnabled(false))
		r.Post("/jobs/{jobID}/send-now", s.handleSendNow)
		r.Post("/events/{eventID}/rebuild", s.handleRebuild)
		r.Delete("/jobs/terminal", s.handleCleanup)
	})
	return r
}

// handleRunScheduler triggers a scheduler pass. It is meant for external cron
// infrastructure and requires the shared bearer token.
func (s *Server) handleRunScheduler(w http.ResponseWriter, r *http.Request) {
	if s.runToken == "" {
		http.Error(w, "trigger endpoint disabled", http.StatusNotFound)
		return
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.runToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var orgID *int64
	if raw := r.URL.Query().Get("org_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid org_id", http.StatusBadRequest)
			return
		}
		orgID = &id
	}

	report, err := s.client.RunOnce(r.Context(), orgID)
	if err != nil {
		s.logger.Error("triggered run failed", zap.Error(err))
		http.Error(w, "run failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.pathID(w, r, "orgID")
	if !ok {
		return
	}

	var filter store.JobFilter
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := models.MessageKind(raw)
		if !kind.Valid() {
			http.Error(w, "invalid kind", http.StatusBadRequest)
			return
		}
		filter.Kind = &kind
	}
	filter.HideSent = r.URL.Query().Get("hide_sent") == "true"
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Statuses = []state.JobStatus{state.JobStatus(raw)}
	}

	jobs, err := s.client.ListJobs(r.Context(), orgID, filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Int64("org_id", orgID), zap.Error(err))
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := s.pathID(w, r, "orgID")
		if !ok {
			return
		}
		jobID, ok := s.pathID(w, r, "jobID")
		if !ok {
			return
		}
		if err := s.client.SetEnabled(r.Context(), orgID, jobID, enabled); err != nil {
			status := http.StatusInternalServerError
			if err == store.ErrNotFound {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "is_enabled": enabled})
	}
}

func (s *Server) handleSendNow(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.pathID(w, r, "orgID")
	if !ok {
		return
	}
	jobID, ok := s.pathID(w, r, "jobID")
	if !ok {
		return
	}
	result := s.client.SendNow(r.Context(), orgID, jobID)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.pathID(w, r, "orgID")
	if !ok {
		return
	}
	eventID, ok := s.pathID(w, r, "eventID")
	if !ok {
		return
	}

	eventResults, err := s.client.Rebuild(r.Context(), orgID, eventID)
	if err != nil {
		s.logger.Error("rebuild failed", zap.Int64("event_id", eventID), zap.Error(err))
		http.Error(w, "rebuild failed", http.StatusInternalServerError)
		return
	}
	shiftResults, err := s.client.RebuildShifts(r.Context(), orgID, eventID)
	if err != nil {
		s.logger.Error("shift rebuild failed", zap.Int64("event_id", eventID), zap.Error(err))
		http.Error(w, "rebuild failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"event":  eventResults,
		"shifts": shiftResults,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	orgID, ok := s.pathID(w, r, "orgID")
	if !ok {
		return
	}
	days := 90
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid days", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	deleted, err := s.client.Cleanup(r.Context(), orgID, time.Duration(days)*24*time.Hour)
	if err != nil {
		s.logger.Error("cleanup failed", zap.Int64("org_id", orgID), zap.Error(err))
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Error(err))
	}
}

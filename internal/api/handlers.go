package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rewired-gh/trendscout/internal/logger"
	"github.com/rewired-gh/trendscout/internal/models"
	"github.com/rewired-gh/trendscout/internal/runner"
)

const maxRunsLimit = 100

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listMissions(w http.ResponseWriter, r *http.Request) {
	status := models.MissionStatus(strings.ToUpper(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		respondWithError(w, http.StatusBadRequest, "Invalid mission status", nil)
		return
	}

	missions, err := s.store.ListMissions(r.Context(), status)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list missions", err)
		return
	}
	respondWithJSON(w, http.StatusOK, missions)
}

func (s *Server) getMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithStoreError(w, "Mission", err)
		return
	}
	respondWithJSON(w, http.StatusOK, m)
}

func (s *Server) listMissionRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, maxRunsLimit)
	}

	if _, err := s.store.GetMission(r.Context(), id); err != nil {
		respondWithStoreError(w, "Mission", err)
		return
	}
	runs, err := s.store.ListMissionRuns(r.Context(), id, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

// triggerRun creates a run and executes it in the background. The response
// carries the PENDING run so clients can poll /api/runs/{id}.
func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.runs.Start(r.Context(), id, models.TriggerAPI)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrMissionNotFound):
			respondWithError(w, http.StatusNotFound, "Mission not found", nil)
		case errors.Is(err, runner.ErrMissionInactive):
			respondWithError(w, http.StatusConflict, "Mission is not active", nil)
		case errors.Is(err, runner.ErrInvalidConfig):
			respondWithError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		default:
			respondWithError(w, http.StatusInternalServerError, "Failed to start run", err)
		}
		return
	}

	// snapshot before the run starts mutating
	pending := *job.Run

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if err := s.runs.Execute(s.runCtx, job); err != nil {
			logger.Error("Background run %s: %v", job.Run.ID, err)
		}
	}()

	w.Header().Set("Location", "/api/runs/"+pending.ID)
	respondWithJSON(w, http.StatusAccepted, pending)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetMissionRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithStoreError(w, "Run", err)
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

func (s *Server) listRunResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetMissionRun(r.Context(), id); err != nil {
		respondWithStoreError(w, "Run", err)
		return
	}
	results, err := s.store.ListRunResults(r.Context(), id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list results", err)
		return
	}
	respondWithJSON(w, http.StatusOK, results)
}

func respondWithStoreError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, what+" not found", nil)
		return
	}
	respondWithError(w, http.StatusInternalServerError, "Failed to load "+strings.ToLower(what), err)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil && code >= 500 {
		logger.Error("HTTP %d: %s: %v", code, message, err)
	}
	respondWithJSON(w, code, map[string]string{"error": message})
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/expirytrack/collector/internal/database"
	"github.com/expirytrack/collector/internal/model"
	"github.com/expirytrack/collector/internal/progress"
	"github.com/expirytrack/collector/internal/scheduler"
	"github.com/expirytrack/collector/internal/version"
)

type startRunRequest struct {
	InstrumentKeys []string `json:"instrument_keys"`
	MonthsBack     int      `json:"months_back"`
	Interval       string   `json:"interval"`
	Concurrency    int      `json:"concurrency"`
}

type runResponse struct {
	RunID     uuid.UUID       `json:"run_id"`
	Status    model.RunStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := s.runs.StartRun(r.Context(),
		model.Selection{InstrumentKeys: req.InstrumentKeys},
		model.RunOptions{
			MonthsBack:  req.MonthsBack,
			Interval:    req.Interval,
			Concurrency: req.Concurrency,
		},
	)
	if err != nil {
		var stErr *database.StorageError
		if errors.As(err, &stErr) {
			s.logger.Error("start run failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Warn("start run rejected", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, runResponse{
		RunID:     run.ID,
		Status:    run.Status,
		CreatedAt: run.CreatedAt,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ResumeIncomplete(r.Context())
	if err != nil {
		s.logger.Error("resume failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resumed := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resumed = append(resumed, runResponse{
			RunID:     run.ID,
			Status:    run.Status,
			CreatedAt: run.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"resumed": resumed})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	p, err := s.runs.Progress(r.Context(), runID)
	if errors.Is(err, progress.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("reading progress", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type failedUnitResponse struct {
	Phase    model.Phase `json:"phase"`
	Key      string      `json:"key"`
	Attempts int         `json:"attempts"`
	Error    string      `json:"error"`
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	units, err := s.runs.FailedUnits(r.Context(), runID)
	if errors.Is(err, progress.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("listing failures", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failures := make([]failedUnitResponse, 0, len(units))
	for _, u := range units {
		failures = append(failures, failedUnitResponse{
			Phase:    u.Phase,
			Key:      u.Key,
			Attempts: u.Attempts,
			Error:    u.LastError,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	err := s.runs.Cancel(r.Context(), runID)
	if errors.Is(err, scheduler.ErrRunNotActive) {
		writeError(w, http.StatusConflict, "run not active")
		return
	}
	if err != nil {
		s.logger.Error("cancel failed", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	p, err := s.runs.Progress(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(model.RunCancelled)})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Snapshot())
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return runID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

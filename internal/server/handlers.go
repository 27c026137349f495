package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/internal/pipeline"
	"github.com/dyluth/mirror/internal/resolver"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/gorilla/mux"
)

const (
	maxMindTail     = 500
	defaultPageSize = 100
	maxPageSize     = 1000
)

// mindResponse is the snapshot, its ledger tail and the engine status in one
// document so the frontend renders from a single request.
type mindResponse struct {
	mind.View
	Status pipeline.Status `json:"status"`
}

type forecastsResponse struct {
	Forecasts      []ledger.Forecast `json:"forecasts"`
	MeanBrierScore *float64          `json:"mean_brier_score,omitempty"`
}

type forecastResponse struct {
	Forecast ledger.Forecast `json:"forecast"`
	History  []ledger.Entry  `json:"history"`
}

type errorResponse struct {
	Error   string   `json:"error"`
	Matches []string `json:"matches,omitempty"`
}

func (s *Server) status() pipeline.Status {
	if s.runner == nil {
		return pipeline.Status{Phase: pipeline.PhaseIdle}
	}
	return s.runner.Status()
}

// handleMind serves GET /api/mind?tail=N.
func (s *Server) handleMind(w http.ResponseWriter, r *http.Request) {
	tail, err := intParam(r, "tail", s.cfg.MindTail)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tail = min(tail, maxMindTail)

	s.sync(r)
	view, err := s.store.View(r.Context(), tail)
	if err != nil {
		s.serverError(w, r, "failed to read ledger tail", err)
		return
	}
	writeJSON(w, http.StatusOK, mindResponse{View: view, Status: s.status()})
}

// handleLedger serves GET /api/ledger?offset=&limit=&order=asc|desc.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	opts := ledger.ListOptions{Offset: offset, Limit: limit}
	switch order := r.URL.Query().Get("order"); order {
	case "", "asc":
	case "desc":
		opts.Reverse = true
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid order: %s (must be 'asc' or 'desc')", order))
		return
	}

	page, err := s.store.Ledger().List(r.Context(), opts)
	if err != nil {
		s.serverError(w, r, "failed to list ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleVerify serves GET /api/ledger/verify. A broken chain is reported in the
// body with status 200; the ledger seals itself as a side effect.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.Ledger().Verify(r.Context())
	if err != nil {
		s.serverError(w, r, "failed to verify ledger", err)
		return
	}
	if !report.Valid {
		s.logger.Error().Str("reason", report.Reason).Msg("Ledger verification failed")
	}
	writeJSON(w, http.StatusOK, report)
}

// handleEntry serves GET /api/ledger/{ref} where ref is a sequence number or a
// hash prefix.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := resolver.ResolveEntry(r.Context(), s.store.Ledger(), mux.Vars(r)["ref"])
	if err != nil {
		var ambiguous *resolver.AmbiguousError
		switch {
		case resolver.IsNotFoundError(err):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &ambiguous):
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Matches: ambiguous.Matches})
		case errors.Is(err, resolver.ErrInvalidRef):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.serverError(w, r, "failed to resolve entry", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleForecasts serves GET /api/forecasts from the current snapshot.
func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	snap := s.sync(r)
	writeJSON(w, http.StatusOK, forecastsResponse{
		Forecasts:      ledger.SortedForecasts(snap.Forecasts),
		MeanBrierScore: snap.Stats.MeanBrierScore,
	})
}

// handleForecast serves GET /api/forecasts/{id} with the entries that shaped it.
func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, history, err := s.store.Ledger().Forecast(r.Context(), id)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("forecast '%s' not found", id))
			return
		}
		s.serverError(w, r, "failed to read forecast", err)
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{Forecast: f, History: history})
}

// handleStartRun serves POST /api/runs. The run continues after the request
// ends.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "this server does not run the pipeline")
		return
	}
	runID, err := s.runner.StartRun(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":  err.Error(),
				"status": s.runner.Status(),
			})
			return
		}
		s.serverError(w, r, "failed to start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// handleStatus serves GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.sync(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": s.status(),
		"health": snap.Health,
		"head":   snap.Head,
	})
}

// sync catches the snapshot up with entries other processes appended to a
// shared ledger. On failure the last good snapshot is served.
func (s *Server) sync(r *http.Request) *mind.Snapshot {
	snap, err := s.store.Sync(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to sync mind with ledger")
		return s.store.Read()
	}
	return snap
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg+": "+err.Error())
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s: %q (must be a non-negative integer)", name, raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

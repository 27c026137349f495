package server

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status   string `json:"status"`
	Ledger   string `json:"ledger"`
	Entries  uint64 `json:"entries"`
	Phase    string `json:"phase"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleHealth handles GET /healthz requests.
// Returns 200 OK if the ledger backend answers and the chain is intact, 503
// Service Unavailable otherwise. A failed last run is reported but is not
// unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap := s.store.Read()
	response := HealthResponse{
		Status:   "healthy",
		Ledger:   "connected",
		Entries:  snap.Stats.Entries,
		Phase:    string(s.status().Phase),
		Degraded: snap.Health.Degraded,
	}

	l := s.store.Ledger()
	if err := l.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Ledger = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	if err := l.Sealed(); err != nil {
		response.Status = "unhealthy"
		response.Ledger = "sealed"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

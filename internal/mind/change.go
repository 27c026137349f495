package mind

import (
	"fmt"

	"github.com/dyluth/mirror/pkg/ledger"
)

// IngestChange converts ingested documents into payloads for Commit.
func IngestChange(docs []*ledger.IngestPayload) []ledger.Payload {
	out := make([]ledger.Payload, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	return out
}

// OpenForecast builds a FORECAST_OPEN payload.
func OpenForecast(id, question, criteria, date string, p float64, openedBy string) *ledger.ForecastOpenPayload {
	return &ledger.ForecastOpenPayload{
		ForecastID:         id,
		Question:           question,
		ResolutionCriteria: criteria,
		ResolutionDate:     date,
		Probability:        p,
		OpenedBy:           openedBy,
	}
}

// UpdateProbability builds the probability change for an open forecast in s.
func (s *Snapshot) UpdateProbability(id string, p float64, runID string) (*ledger.SystemUpdatePayload, error) {
	f, ok := s.Forecasts[id]
	if !ok {
		return nil, fmt.Errorf("forecast %s: %w", id, ledger.ErrNotFound)
	}
	return f.UpdateProbability(p, runID)
}

// ResolveForecast builds the resolution for an open forecast in s, scored
// against the probability it currently holds.
func (s *Snapshot) ResolveForecast(id string, outcome bool) (*ledger.ForecastResolvePayload, error) {
	f, ok := s.Forecasts[id]
	if !ok {
		return nil, fmt.Errorf("forecast %s: %w", id, ledger.ErrNotFound)
	}
	return f.Resolve(outcome)
}

// MindUpdate wraps a synthesised update for the ledger.
func MindUpdate(runID string, m ledger.MindUpdate) *ledger.SystemUpdatePayload {
	return &ledger.SystemUpdatePayload{Kind: ledger.KindMindUpdate, RunID: runID, Mind: &m}
}

// RecordFailure builds the entry that marks a run as blocked in phase.
func RecordFailure(runID, phase string, attempts int, err error) *ledger.SystemUpdatePayload {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &ledger.SystemUpdatePayload{
		Kind:     ledger.KindPhaseFailed,
		RunID:    runID,
		Phase:    phase,
		Message:  msg,
		Attempts: attempts,
	}
}

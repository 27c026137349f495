// Package mind maintains the Living Mind: the current beliefs, risks, reality
// deltas and forecasts, derived entirely from the Truth Ledger.
package mind

import (
	"fmt"
	"time"

	"github.com/dyluth/mirror/pkg/ledger"
)

// maxBeliefHistory caps the confidence samples kept per belief.
const maxBeliefHistory = 30

// Snapshot is an immutable view of the mind at a ledger head. Readers must not
// mutate a Snapshot obtained from a Store.
type Snapshot struct {
	Forecasts map[string]ledger.Forecast `json:"forecasts"`
	Beliefs   []ledger.Belief            `json:"beliefs"`
	Risks     []ledger.Risk              `json:"risks"`
	Deltas    []ledger.Delta             `json:"deltas"`
	Update    *ledger.MentalModelUpdate  `json:"update,omitempty"`
	Stats     Stats                      `json:"stats"`
	Health    Health                     `json:"health"`
	Head      ledger.Head                `json:"head"`

	sources map[string]struct{}
}

// Stats are counters derived from the ledger.
type Stats struct {
	Entries           uint64     `json:"entries"`
	Sources           int        `json:"sources"`
	Forecasts         int        `json:"forecasts"`
	OpenForecasts     int        `json:"open_forecasts"`
	ResolvedForecasts int        `json:"resolved_forecasts"`
	MeanBrierScore    *float64   `json:"mean_brier_score,omitempty"`
	Runs              int        `json:"runs"`
	CompletedRuns     int        `json:"completed_runs"`
	FailedRuns        int        `json:"failed_runs"`
	LastRunID         string     `json:"last_run_id,omitempty"`
	LastUpdated       *time.Time `json:"last_updated,omitempty"`
}

// Health reports whether the last run failed and why.
type Health struct {
	Degraded      bool   `json:"degraded"`
	BlockedReason string `json:"blocked_reason,omitempty"`
	FailedPhase   string `json:"failed_phase,omitempty"`
	FailedAt      uint64 `json:"failed_at_seq,omitempty"`
}

// Empty returns the snapshot of an empty ledger.
func Empty() *Snapshot {
	return &Snapshot{
		Forecasts: map[string]ledger.Forecast{},
		Beliefs:   []ledger.Belief{},
		Risks:     []ledger.Risk{},
		Deltas:    []ledger.Delta{},
		Head:      ledger.Head{Hash: ledger.GenesisHash},
		sources:   map[string]struct{}{},
	}
}

// HasSource reports whether a source id has already been ingested.
func (s *Snapshot) HasSource(id string) bool {
	_, ok := s.sources[id]
	return ok
}

// Forecast returns a forecast by id.
func (s *Snapshot) Forecast(id string) (ledger.Forecast, bool) {
	f, ok := s.Forecasts[id]
	return f, ok
}

// Clone deep-copies the snapshot so the copy can be modified freely.
func (s *Snapshot) Clone() *Snapshot {
	c := *s

	c.Forecasts = make(map[string]ledger.Forecast, len(s.Forecasts))
	for id, f := range s.Forecasts {
		c.Forecasts[id] = f
	}
	c.sources = make(map[string]struct{}, len(s.sources))
	for id := range s.sources {
		c.sources[id] = struct{}{}
	}

	c.Beliefs = make([]ledger.Belief, len(s.Beliefs))
	for i, b := range s.Beliefs {
		b.History = append([]ledger.BeliefPoint(nil), b.History...)
		c.Beliefs[i] = b
	}
	c.Risks = append([]ledger.Risk{}, s.Risks...)
	c.Deltas = append([]ledger.Delta{}, s.Deltas...)

	if s.Update != nil {
		u := *s.Update
		c.Update = &u
	}
	if s.Stats.MeanBrierScore != nil {
		m := *s.Stats.MeanBrierScore
		c.Stats.MeanBrierScore = &m
	}
	if s.Stats.LastUpdated != nil {
		t := *s.Stats.LastUpdated
		c.Stats.LastUpdated = &t
	}
	return &c
}

// Replay folds entries, starting from an empty mind. It depends on nothing but
// its input, so replaying the same entries always yields the same snapshot.
func Replay(entries []ledger.Entry) (*Snapshot, error) {
	s := Empty()
	for _, e := range entries {
		if err := s.apply(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// apply folds one entry into s in place. Entries must arrive in sequence order.
func (s *Snapshot) apply(e ledger.Entry) error {
	if s.Stats.Entries != e.Sequence {
		return fmt.Errorf("entry %d applied out of order: snapshot expects %d", e.Sequence, s.Stats.Entries)
	}
	p, err := e.Decode()
	if err != nil {
		return err
	}

	switch pl := p.(type) {
	case *ledger.IngestPayload:
		s.sources[pl.SourceID] = struct{}{}

	case *ledger.ForecastOpenPayload, *ledger.ForecastResolvePayload:
		if id := ledger.ApplyForecastEntry(s.Forecasts, e, p); id != "" {
			s.recountForecasts()
		}

	case *ledger.SystemUpdatePayload:
		s.applySystemUpdate(e, pl)
	}

	ts := e.Timestamp
	s.Stats.Entries = e.Sequence + 1
	s.Stats.Sources = len(s.sources)
	s.Stats.LastUpdated = &ts
	s.Head = ledger.Head{Sequence: e.Sequence, Hash: e.Hash, Length: e.Sequence + 1}
	return nil
}

func (s *Snapshot) applySystemUpdate(e ledger.Entry, p *ledger.SystemUpdatePayload) {
	switch p.Kind {
	case ledger.KindRunStarted:
		s.Stats.Runs++
		s.Stats.LastRunID = p.RunID

	case ledger.KindRunCompleted:
		s.Stats.CompletedRuns++
		s.Health = Health{}

	case ledger.KindPhaseFailed:
		s.Stats.FailedRuns++
		s.Health = Health{
			Degraded:      true,
			BlockedReason: fmt.Sprintf("waiting: %s failed after %d attempts: %s", p.Phase, p.Attempts, p.Message),
			FailedPhase:   p.Phase,
			FailedAt:      e.Sequence,
		}

	case ledger.KindProbabilityUpdate:
		ledger.ApplyForecastEntry(s.Forecasts, e, p)

	case ledger.KindMindUpdate:
		s.applyMindUpdate(e.Sequence, p.Mind)
	}
}

func (s *Snapshot) applyMindUpdate(seq uint64, m *ledger.MindUpdate) {
	if m == nil {
		return
	}
	if m.Update != nil {
		u := *m.Update
		s.Update = &u
	}

	for _, b := range m.Beliefs {
		point := ledger.BeliefPoint{Sequence: seq, Confidence: b.Confidence}
		idx := -1
		for i := range s.Beliefs {
			if s.Beliefs[i].ID == b.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			b.History = []ledger.BeliefPoint{point}
			s.Beliefs = append(s.Beliefs, b)
			continue
		}
		history := append(s.Beliefs[idx].History, point)
		if len(history) > maxBeliefHistory {
			history = history[len(history)-maxBeliefHistory:]
		}
		b.History = history
		s.Beliefs[idx] = b
	}

	for _, r := range m.Risks {
		replaced := false
		for i := range s.Risks {
			if s.Risks[i].ID == r.ID {
				s.Risks[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			s.Risks = append(s.Risks, r)
		}
	}

	if len(m.Deltas) > 0 {
		s.Deltas = append([]ledger.Delta{}, m.Deltas...)
	}
}

func (s *Snapshot) recountForecasts() {
	open, resolved := 0, 0
	for _, f := range s.Forecasts {
		if f.Status == ledger.ForecastResolved {
			resolved++
		} else {
			open++
		}
	}
	s.Stats.Forecasts = len(s.Forecasts)
	s.Stats.OpenForecasts = open
	s.Stats.ResolvedForecasts = resolved
	if mean, ok := ledger.MeanBrier(s.Forecasts); ok {
		s.Stats.MeanBrierScore = &mean
	}
}

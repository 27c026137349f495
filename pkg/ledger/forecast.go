package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// ForecastStatus is the lifecycle state of a forecast. Forecasts move from open
// to resolved exactly once.
type ForecastStatus string

const (
	ForecastOpen     ForecastStatus = "open"
	ForecastResolved ForecastStatus = "resolved"
)

// Forecast is the current state of a forecast derived from the ledger.
type Forecast struct {
	ID                 string         `json:"id"`
	Question           string         `json:"question"`
	ResolutionCriteria string         `json:"resolution_criteria,omitempty"`
	ResolutionDate     string         `json:"resolution_date,omitempty"`
	Probability        float64        `json:"probability"`
	Status             ForecastStatus `json:"status"`
	Outcome            *bool          `json:"outcome,omitempty"`
	BrierScore         *float64       `json:"brier_score,omitempty"`
	OpenedAt           uint64         `json:"opened_at_seq"`
	ResolvedAt         *uint64        `json:"resolved_at_seq,omitempty"`
	Updates            int            `json:"updates"`
}

// BrierScore returns (outcome - p)^2 rounded to six decimals, so recorded
// scores are exact in their JSON form.
func BrierScore(p float64, outcome bool) float64 {
	o := 0.0
	if outcome {
		o = 1.0
	}
	d := o - p
	return math.Round(d*d*1e6) / 1e6
}

// Resolve builds the FORECAST_RESOLVE payload for f. Resolved forecasts cannot
// be resolved again.
func (f Forecast) Resolve(outcome bool) (*ForecastResolvePayload, error) {
	if f.Status == ForecastResolved {
		return nil, fmt.Errorf("forecast %s: %w", f.ID, ErrForecastClosed)
	}
	return &ForecastResolvePayload{
		ForecastID:  f.ID,
		Outcome:     outcome,
		Probability: f.Probability,
		BrierScore:  BrierScore(f.Probability, outcome),
	}, nil
}

// UpdateProbability builds the SYSTEM_UPDATE payload that moves f to p.
func (f Forecast) UpdateProbability(p float64, runID string) (*SystemUpdatePayload, error) {
	if f.Status == ForecastResolved {
		return nil, fmt.Errorf("forecast %s: %w", f.ID, ErrForecastClosed)
	}
	if err := validateProbability(p); err != nil {
		return nil, err
	}
	return &SystemUpdatePayload{
		Kind:        KindProbabilityUpdate,
		RunID:       runID,
		ForecastID:  f.ID,
		Probability: &p,
	}, nil
}

// ApplyForecastEntry folds one decoded entry into index. It returns the id of
// the forecast it changed, or "" when the entry does not touch a forecast or
// refers to an unknown or already resolved one.
func ApplyForecastEntry(index map[string]Forecast, e Entry, p Payload) string {
	switch pl := p.(type) {
	case *ForecastOpenPayload:
		if _, exists := index[pl.ForecastID]; exists {
			return ""
		}
		index[pl.ForecastID] = Forecast{
			ID:                 pl.ForecastID,
			Question:           pl.Question,
			ResolutionCriteria: pl.ResolutionCriteria,
			ResolutionDate:     pl.ResolutionDate,
			Probability:        pl.Probability,
			Status:             ForecastOpen,
			OpenedAt:           e.Sequence,
		}
		return pl.ForecastID

	case *ForecastResolvePayload:
		f, ok := index[pl.ForecastID]
		if !ok || f.Status == ForecastResolved {
			return ""
		}
		outcome, score, at := pl.Outcome, pl.BrierScore, e.Sequence
		f.Status = ForecastResolved
		f.Probability = pl.Probability
		f.Outcome = &outcome
		f.BrierScore = &score
		f.ResolvedAt = &at
		index[pl.ForecastID] = f
		return pl.ForecastID

	case *SystemUpdatePayload:
		if pl.Kind != KindProbabilityUpdate || pl.Probability == nil {
			return ""
		}
		f, ok := index[pl.ForecastID]
		if !ok || f.Status == ForecastResolved {
			return ""
		}
		f.Probability = *pl.Probability
		f.Updates++
		index[pl.ForecastID] = f
		return pl.ForecastID
	}
	return ""
}

// IndexForecasts derives every forecast from entries.
func IndexForecasts(entries []Entry) (map[string]Forecast, error) {
	index := make(map[string]Forecast)
	for _, e := range entries {
		p, err := e.Decode()
		if err != nil {
			return nil, err
		}
		ApplyForecastEntry(index, e, p)
	}
	return index, nil
}

// SortedForecasts returns the index ordered by opening sequence.
func SortedForecasts(index map[string]Forecast) []Forecast {
	out := make([]Forecast, 0, len(index))
	for _, f := range index {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt < out[j].OpenedAt })
	return out
}

// Forecasts returns all forecasts ordered by opening sequence.
func (l *Ledger) Forecasts(ctx context.Context) ([]Forecast, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	index, err := IndexForecasts(entries)
	if err != nil {
		return nil, err
	}
	return SortedForecasts(index), nil
}

// Forecast returns one forecast and every entry that shaped it, in order.
func (l *Ledger) Forecast(ctx context.Context, id string) (Forecast, []Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Forecast{}, nil, err
	}

	index := make(map[string]Forecast)
	var history []Entry
	for _, e := range entries {
		p, err := e.Decode()
		if err != nil {
			return Forecast{}, nil, err
		}
		if ApplyForecastEntry(index, e, p) == id {
			history = append(history, e)
		}
	}

	f, ok := index[id]
	if !ok {
		return Forecast{}, nil, fmt.Errorf("forecast %s: %w", id, ErrNotFound)
	}
	return f, history, nil
}

// MeanBrier averages the Brier scores of resolved forecasts. ok is false when
// nothing has been resolved yet.
func MeanBrier(index map[string]Forecast) (mean float64, ok bool) {
	var sum float64
	var n int
	for _, f := range SortedForecasts(index) {
		if f.BrierScore != nil {
			sum += *f.BrierScore
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return math.Round(sum/float64(n)*1e6) / 1e6, true
}

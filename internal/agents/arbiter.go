package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dyluth/mirror/pkg/ledger"
)

// minProbabilityShift is the smallest averaged change worth recording.
const minProbabilityShift = 0.005

// Arbiter merges council output deterministically. It reads the line protocol
// written by each agent and never calls out to anything.
type Arbiter struct{}

// NewArbiter creates the default synthesizer.
func NewArbiter() *Arbiter { return &Arbiter{} }

// Synthesize folds the outputs into one Synthesis. Outputs are processed in
// agent-name order so the result does not depend on completion order.
func (a *Arbiter) Synthesize(ctx context.Context, in Input, outputs []Output) (Synthesis, error) {
	if err := ctx.Err(); err != nil {
		return Synthesis{}, err
	}
	if len(outputs) == 0 {
		return Synthesis{}, fmt.Errorf("no agent output to synthesize")
	}

	sorted := append([]Output(nil), outputs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Agent < sorted[j].Agent })

	var syn Synthesis
	syn.Mind.Update = modelUpdate(sorted)
	syn.Mind.Beliefs = a.beliefs(in, sorted)
	syn.Mind.Risks = a.risks(in, sorted)
	syn.Open = a.forecasts(in, sorted)
	syn.Resolutions = a.resolutions(in, sorted)
	syn.Updates = a.updates(in, sorted, syn.Resolutions)
	syn.Mind.Deltas = a.deltas(in, sorted, syn)
	return syn, nil
}

func modelUpdate(outputs []Output) *ledger.MentalModelUpdate {
	var lead, doubt Take
	lead.Confidence, doubt.Confidence = -1, 2
	var risks []string
	for _, o := range outputs {
		t := ParseTake(o.Raw)
		if t.Text == "" {
			continue
		}
		if t.Confidence > lead.Confidence {
			lead = t
		}
		if t.Confidence < doubt.Confidence {
			doubt = t
		}
		for _, r := range t.Risks {
			if !contains(risks, r) {
				risks = append(risks, r)
			}
		}
	}
	if lead.Text == "" {
		return nil
	}
	u := &ledger.MentalModelUpdate{
		Matters:    lead.Text,
		Confidence: fmt.Sprintf("Council confidence ranges %.0f%% to %.0f%%", doubt.Confidence*100, lead.Confidence*100),
		Unresolved: "No open risks raised",
	}
	if len(risks) > 0 {
		u.Unresolved = strings.Join(risks, "; ")
	}
	return u
}

func (a *Arbiter) beliefs(in Input, outputs []Output) []ledger.Belief {
	previous := map[string]ledger.Belief{}
	if in.Snapshot != nil {
		for _, b := range in.Snapshot.Beliefs {
			previous[b.ID] = b
		}
	}

	var out []ledger.Belief
	index := map[string]int{}
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "BELIEF") {
			if r.Text == "" {
				continue
			}
			id := shortHash("belief", r.Text)
			if _, dup := index[id]; dup {
				continue
			}
			conf, ok := r.Int("CONFIDENCE")
			if !ok {
				conf = 50
			}
			conf = int(clamp(float64(conf), 0, 100))

			b := ledger.Belief{
				ID:          id,
				Statement:   r.Text,
				Status:      beliefStatus(r.Field("STATUS")),
				Confidence:  conf,
				EvidenceFor: o.Agent,
			}
			if prev, ok := previous[id]; ok {
				b.EvidenceFor = prev.EvidenceFor
				b.EvidenceAgainst = prev.EvidenceAgainst
				switch {
				case conf < 20 && prev.Confidence >= 50:
					b.Status = ledger.BeliefShattered
					b.LastChallenged = in.RunID
				case conf > prev.Confidence:
					b.Status = ledger.BeliefStrengthening
				case conf < prev.Confidence:
					b.Status = ledger.BeliefWeakening
					b.LastChallenged = in.RunID
				default:
					b.LastChallenged = prev.LastChallenged
				}
			}
			index[id] = len(out)
			out = append(out, b)
		}
	}
	return out
}

func beliefStatus(s string) ledger.BeliefStatus {
	switch st := ledger.BeliefStatus(strings.ToLower(s)); st {
	case ledger.BeliefActive, ledger.BeliefQuestioned, ledger.BeliefStrengthening,
		ledger.BeliefWeakening, ledger.BeliefShattered:
		return st
	}
	return ledger.BeliefActive
}

func (a *Arbiter) risks(in Input, outputs []Output) []ledger.Risk {
	previous := map[string]ledger.Risk{}
	if in.Snapshot != nil {
		for _, r := range in.Snapshot.Risks {
			previous[r.ID] = r
		}
	}

	var out []ledger.Risk
	seen := map[string]struct{}{}
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "RISK") {
			if r.Text == "" {
				continue
			}
			id := shortHash("risk", r.Text)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			risk := ledger.Risk{
				ID:                id,
				Text:              r.Text,
				Status:            ledger.RiskDeveloping,
				CompoundingFactor: r.Field("COMPOUND"),
				Severity:          severity(r.Field("SEVERITY")),
			}
			if prev, ok := previous[id]; ok {
				risk.Status = escalate(prev.Status)
			}
			out = append(out, risk)
		}
	}
	return out
}

func severity(s string) string {
	switch s = strings.ToLower(s); s {
	case "low", "medium", "high":
		return s
	case "critical", "severe":
		return "high"
	}
	return "medium"
}

// escalate moves a risk one step along its lifecycle when it is raised again.
func escalate(s ledger.RiskStatus) ledger.RiskStatus {
	switch s {
	case ledger.RiskDormant, ledger.RiskResolved:
		return ledger.RiskDeveloping
	case ledger.RiskDeveloping:
		return ledger.RiskEscalating
	default:
		return ledger.RiskCritical
	}
}

func (a *Arbiter) forecasts(in Input, outputs []Output) []ledger.ForecastOpenPayload {
	var out []ledger.ForecastOpenPayload
	seen := map[string]struct{}{}
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "FORECAST") {
			if r.Text == "" {
				continue
			}
			id := shortHash("fc", r.Text)
			if _, dup := seen[id]; dup {
				continue
			}
			if in.Snapshot != nil {
				if _, exists := in.Snapshot.Forecast(id); exists {
					continue
				}
			}
			p, ok := r.Float("PROB")
			if !ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, ledger.ForecastOpenPayload{
				ForecastID:         id,
				Question:           r.Text,
				ResolutionCriteria: r.Field("CRITERIA"),
				ResolutionDate:     r.Field("DATE"),
				Probability:        round2(clamp(p, 0.01, 0.99)),
				OpenedBy:           o.Agent,
			})
		}
	}
	return out
}

func (a *Arbiter) resolutions(in Input, outputs []Output) []Resolution {
	if in.Snapshot == nil {
		return nil
	}
	var out []Resolution
	seen := map[string]struct{}{}
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "RESOLVE") {
			if _, dup := seen[r.Text]; dup {
				continue
			}
			f, ok := in.Snapshot.Forecast(r.Text)
			if !ok || f.Status != ledger.ForecastOpen {
				continue
			}
			outcome, ok := parseOutcome(r.Field("OUTCOME"))
			if !ok {
				continue
			}
			seen[r.Text] = struct{}{}
			out = append(out, Resolution{ForecastID: r.Text, Outcome: outcome})
		}
	}
	return out
}

func parseOutcome(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	}
	return false, false
}

// updates averages every UPDATE vote per open forecast. Forecasts being
// resolved in the same run are left alone.
func (a *Arbiter) updates(in Input, outputs []Output, resolutions []Resolution) []ProbabilityChange {
	if in.Snapshot == nil {
		return nil
	}
	closing := map[string]struct{}{}
	for _, r := range resolutions {
		closing[r.ForecastID] = struct{}{}
	}

	sums := map[string]float64{}
	counts := map[string]int{}
	var order []string
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "UPDATE") {
			p, ok := r.Float("PROB")
			if !ok {
				continue
			}
			if counts[r.Text] == 0 {
				order = append(order, r.Text)
			}
			sums[r.Text] += clamp(p, 0.01, 0.99)
			counts[r.Text]++
		}
	}

	var out []ProbabilityChange
	for _, id := range order {
		if _, skip := closing[id]; skip {
			continue
		}
		f, ok := in.Snapshot.Forecast(id)
		if !ok || f.Status != ledger.ForecastOpen {
			continue
		}
		p := round2(sums[id] / float64(counts[id]))
		if math.Abs(p-f.Probability) < minProbabilityShift {
			continue
		}
		out = append(out, ProbabilityChange{ForecastID: id, Probability: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ForecastID < out[j].ForecastID })
	return out
}

func (a *Arbiter) deltas(in Input, outputs []Output, syn Synthesis) []ledger.Delta {
	var out []ledger.Delta
	for _, o := range outputs {
		for _, r := range ParseRecords(o.Raw, "DELTA") {
			if r.Text == "" {
				continue
			}
			d := ledger.Delta{Type: "signal_noise", Text: r.Text, Sentiment: sentiment(r.Field("SENTIMENT"))}
			if m, ok := r.Int("MAGNITUDE"); ok {
				d.Magnitude = &m
			}
			out = append(out, d)
		}
	}

	known := map[string]struct{}{}
	if in.Snapshot != nil {
		for _, r := range in.Snapshot.Risks {
			known[r.ID] = struct{}{}
		}
	}
	for _, r := range syn.Mind.Risks {
		if _, ok := known[r.ID]; ok {
			continue
		}
		out = append(out, ledger.Delta{Type: "new_risk", Text: r.Text, Sentiment: "alert"})
	}

	for _, b := range syn.Mind.Beliefs {
		if b.Status == ledger.BeliefShattered {
			out = append(out, ledger.Delta{Type: "belief_flip", Text: b.Statement, Sentiment: "negative"})
		}
	}

	for _, u := range syn.Updates {
		f, _ := in.Snapshot.Forecast(u.ForecastID)
		shift := int(math.Round((u.Probability - f.Probability) * 100))
		s := "positive"
		if shift < 0 {
			s = "negative"
		}
		out = append(out, ledger.Delta{
			Type:      "probability_shift",
			Text:      fmt.Sprintf("%s moved to %.0f%%", f.Question, u.Probability*100),
			Magnitude: &shift,
			Sentiment: s,
		})
	}
	return out
}

func sentiment(s string) string {
	switch s = strings.ToLower(s); s {
	case "positive", "negative", "neutral", "alert":
		return s
	}
	return "neutral"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

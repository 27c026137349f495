package ledger

import "fmt"

// MindUpdate is the synthesised outcome of a deliberation: the revised mental
// model plus the beliefs, risks and reality deltas it touched.
type MindUpdate struct {
	Update  *MentalModelUpdate `json:"update,omitempty"`
	Beliefs []Belief           `json:"beliefs,omitempty"`
	Risks   []Risk             `json:"risks,omitempty"`
	Deltas  []Delta            `json:"deltas,omitempty"`
}

// Validate checks every element of the update.
func (m *MindUpdate) Validate() error {
	for i := range m.Beliefs {
		if err := m.Beliefs[i].Validate(); err != nil {
			return fmt.Errorf("belief %d: %w", i, err)
		}
	}
	for i := range m.Risks {
		if err := m.Risks[i].Validate(); err != nil {
			return fmt.Errorf("risk %d: %w", i, err)
		}
	}
	for i := range m.Deltas {
		if err := m.Deltas[i].Validate(); err != nil {
			return fmt.Errorf("delta %d: %w", i, err)
		}
	}
	return nil
}

// MentalModelUpdate summarises what changed in three short statements.
type MentalModelUpdate struct {
	Matters    string `json:"matters"`    // What matters now
	Confidence string `json:"confidence"` // What moved our confidence
	Unresolved string `json:"unresolved"` // What remains open
}

// BeliefStatus tracks how a belief is faring against new evidence.
type BeliefStatus string

const (
	BeliefActive        BeliefStatus = "active"
	BeliefQuestioned    BeliefStatus = "questioned"
	BeliefStrengthening BeliefStatus = "strengthening"
	BeliefWeakening     BeliefStatus = "weakening"
	BeliefShattered     BeliefStatus = "shattered"
)

// Belief is a persistent statement whose confidence evolves across runs.
type Belief struct {
	ID              string        `json:"id"`
	Statement       string        `json:"statement"`
	Status          BeliefStatus  `json:"status"`
	Confidence      int           `json:"confidence"` // 0-100
	LastChallenged  string        `json:"last_challenged,omitempty"`
	EvidenceFor     string        `json:"evidence_for,omitempty"`
	EvidenceAgainst string        `json:"evidence_against,omitempty"`
	History         []BeliefPoint `json:"history,omitempty"`
}

// BeliefPoint is one sample of a belief's confidence, keyed by the ledger
// sequence that recorded it.
type BeliefPoint struct {
	Sequence   uint64 `json:"sequence"`
	Confidence int    `json:"confidence"`
}

func (b *Belief) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("belief id is required")
	}
	switch b.Status {
	case BeliefActive, BeliefQuestioned, BeliefStrengthening, BeliefWeakening, BeliefShattered:
	default:
		return fmt.Errorf("invalid belief status: %q", b.Status)
	}
	if b.Confidence < 0 || b.Confidence > 100 {
		return fmt.Errorf("belief confidence must be within [0, 100], got %d", b.Confidence)
	}
	return nil
}

// RiskStatus is the lifecycle of a systemic risk.
type RiskStatus string

const (
	RiskDormant    RiskStatus = "dormant"
	RiskDeveloping RiskStatus = "developing"
	RiskEscalating RiskStatus = "escalating"
	RiskCritical   RiskStatus = "critical"
	RiskResolved   RiskStatus = "resolved"
)

// Risk is a systemic risk that can compound over time.
type Risk struct {
	ID                string     `json:"id"`
	Text              string     `json:"text"`
	Status            RiskStatus `json:"status"`
	CompoundingFactor string     `json:"compounding_factor,omitempty"`
	Severity          string     `json:"severity"` // low, medium, high
}

func (r *Risk) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("risk id is required")
	}
	switch r.Status {
	case RiskDormant, RiskDeveloping, RiskEscalating, RiskCritical, RiskResolved:
	default:
		return fmt.Errorf("invalid risk status: %q", r.Status)
	}
	switch r.Severity {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("invalid risk severity: %q", r.Severity)
	}
	return nil
}

// Delta is a single unit of change in reality shown in the ticker.
type Delta struct {
	Type      string `json:"type"` // probability_shift, new_risk, belief_flip, signal_noise
	Text      string `json:"text"`
	Magnitude *int   `json:"magnitude,omitempty"`
	Sentiment string `json:"sentiment"` // positive, negative, neutral, alert
}

func (d *Delta) Validate() error {
	switch d.Type {
	case "probability_shift", "new_risk", "belief_flip", "signal_noise":
	default:
		return fmt.Errorf("invalid delta type: %q", d.Type)
	}
	switch d.Sentiment {
	case "positive", "negative", "neutral", "alert":
	default:
		return fmt.Errorf("invalid delta sentiment: %q", d.Sentiment)
	}
	return nil
}

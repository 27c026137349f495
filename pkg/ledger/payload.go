package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the typed content of a ledger entry. Each implementation maps to
// exactly one EntryType.
type Payload interface {
	EntryType() EntryType
	Validate() error
}

// SourceID derives the stable identifier of a source document from its URL.
// Re-ingesting the same URL yields the same ID.
func SourceID(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])[:12]
}

// IngestPayload records one source document.
type IngestPayload struct {
	SourceID    string `json:"source_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Excerpt     string `json:"excerpt,omitempty"`
	Feed        string `json:"feed,omitempty"`
	Tier        int    `json:"tier,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

func (p *IngestPayload) EntryType() EntryType { return EntryTypeIngest }

func (p *IngestPayload) Validate() error {
	if p.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if p.Title == "" && p.URL == "" {
		return fmt.Errorf("ingest needs a title or url")
	}
	return nil
}

// ForecastOpenPayload registers a new forecast.
type ForecastOpenPayload struct {
	ForecastID         string  `json:"forecast_id"`
	Question           string  `json:"question"`
	ResolutionCriteria string  `json:"resolution_criteria,omitempty"`
	ResolutionDate     string  `json:"resolution_date,omitempty"`
	Probability        float64 `json:"probability"`
	OpenedBy           string  `json:"opened_by,omitempty"`
}

func (p *ForecastOpenPayload) EntryType() EntryType { return EntryTypeForecastOpen }

func (p *ForecastOpenPayload) Validate() error {
	if p.ForecastID == "" {
		return fmt.Errorf("forecast_id is required")
	}
	if p.Question == "" {
		return fmt.Errorf("question is required")
	}
	return validateProbability(p.Probability)
}

// ForecastResolvePayload closes a forecast with its observed outcome.
type ForecastResolvePayload struct {
	ForecastID  string  `json:"forecast_id"`
	Outcome     bool    `json:"outcome"`
	Probability float64 `json:"probability"` // Probability held at resolution time
	BrierScore  float64 `json:"brier_score"`
}

func (p *ForecastResolvePayload) EntryType() EntryType { return EntryTypeForecastResolve }

func (p *ForecastResolvePayload) Validate() error {
	if p.ForecastID == "" {
		return fmt.Errorf("forecast_id is required")
	}
	if err := validateProbability(p.Probability); err != nil {
		return err
	}
	if want := BrierScore(p.Probability, p.Outcome); p.BrierScore != want {
		return fmt.Errorf("brier_score %v does not match probability %v and outcome %v (want %v)",
			p.BrierScore, p.Probability, p.Outcome, want)
	}
	return nil
}

// SystemUpdateKind classifies SYSTEM_UPDATE entries.
type SystemUpdateKind string

const (
	KindRunStarted           SystemUpdateKind = "run_started"
	KindRunCompleted         SystemUpdateKind = "run_completed"
	KindPhaseFailed          SystemUpdateKind = "phase_failed"
	KindDeliberationRecorded SystemUpdateKind = "deliberation_recorded"
	KindProbabilityUpdate    SystemUpdateKind = "probability_update"
	KindMindUpdate           SystemUpdateKind = "mind_update"
)

// Validate checks that the kind is known.
func (k SystemUpdateKind) Validate() error {
	switch k {
	case KindRunStarted, KindRunCompleted, KindPhaseFailed,
		KindDeliberationRecorded, KindProbabilityUpdate, KindMindUpdate:
		return nil
	default:
		return fmt.Errorf("invalid system update kind: %q", k)
	}
}

// AgentExecution summarises one agent's contribution to a deliberation.
// The output itself is opaque to the ledger, only its hash is kept.
type AgentExecution struct {
	Agent      string `json:"agent"`
	OutputHash string `json:"output_hash,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// SystemUpdatePayload records pipeline lifecycle events, probability changes
// and synthesised mind updates.
type SystemUpdatePayload struct {
	Kind        SystemUpdateKind `json:"kind"`
	RunID       string           `json:"run_id,omitempty"`
	Phase       string           `json:"phase,omitempty"`
	Message     string           `json:"message,omitempty"`
	Attempts    int              `json:"attempts,omitempty"`
	ForecastID  string           `json:"forecast_id,omitempty"`
	Probability *float64         `json:"probability,omitempty"`
	Agents      []AgentExecution `json:"agents,omitempty"`
	Mind        *MindUpdate      `json:"mind,omitempty"`
}

func (p *SystemUpdatePayload) EntryType() EntryType { return EntryTypeSystemUpdate }

func (p *SystemUpdatePayload) Validate() error {
	if err := p.Kind.Validate(); err != nil {
		return err
	}
	switch p.Kind {
	case KindProbabilityUpdate:
		if p.ForecastID == "" {
			return fmt.Errorf("probability_update requires forecast_id")
		}
		if p.Probability == nil {
			return fmt.Errorf("probability_update requires probability")
		}
		return validateProbability(*p.Probability)
	case KindMindUpdate:
		if p.Mind == nil {
			return fmt.Errorf("mind_update requires mind")
		}
		return p.Mind.Validate()
	case KindPhaseFailed:
		if p.Phase == "" {
			return fmt.Errorf("phase_failed requires phase")
		}
	}
	return nil
}

// Marshal returns the canonical JSON encoding of a payload after validating it.
func Marshal(p Payload) (json.RawMessage, error) {
	if p == nil {
		return nil, fmt.Errorf("payload cannot be nil")
	}
	if err := p.EntryType().Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", p.EntryType(), err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.EntryType(), err)
	}
	return data, nil
}

// Decode unmarshals the entry payload into its typed form.
func (e Entry) Decode() (Payload, error) {
	var p Payload
	switch e.Type {
	case EntryTypeIngest:
		p = &IngestPayload{}
	case EntryTypeForecastOpen:
		p = &ForecastOpenPayload{}
	case EntryTypeForecastResolve:
		p = &ForecastResolvePayload{}
	case EntryTypeSystemUpdate:
		p = &SystemUpdatePayload{}
	default:
		return nil, fmt.Errorf("invalid entry type: %q", e.Type)
	}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload at sequence %d: %w", e.Type, e.Sequence, err)
	}
	return p, nil
}

func validateProbability(p float64) error {
	if p < 0 || p > 1 || p != p {
		return fmt.Errorf("probability must be within [0, 1], got %v", p)
	}
	return nil
}

// Package agents defines the council that deliberates over ingested material
// and the arbiter that turns its output into ledger changes.
//
// Real deployments plug model-backed agents in behind the Agent interface.
// The scripted agents here are deterministic so runs are reproducible.
package agents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/pkg/ledger"
)

// Role names a council seat.
type Role string

const (
	RoleSentinel   Role = "sentinel"
	RoleBull       Role = "bull"
	RoleBear       Role = "bear"
	RoleSkeptic    Role = "skeptic"
	RoleHistorian  Role = "historian"
	RoleForecaster Role = "forecaster"
)

// Validate checks the role is a known council seat.
func (r Role) Validate() error {
	switch r {
	case RoleSentinel, RoleBull, RoleBear, RoleSkeptic, RoleHistorian, RoleForecaster:
		return nil
	default:
		return fmt.Errorf("invalid agent role: %q", r)
	}
}

// Input is what every agent sees during deliberation.
type Input struct {
	RunID     string
	Now       time.Time
	Documents []ledger.IngestPayload // documents ingested in this run
	Snapshot  *mind.Snapshot         // mind state before the run
}

// Output is one agent's contribution. Raw is opaque to the ledger; only its
// hash is recorded.
type Output struct {
	Agent    string
	Role     Role
	Raw      string
	Duration time.Duration
}

// Hash returns the first 16 hex characters of SHA-256(Raw).
func (o Output) Hash() string {
	sum := sha256.Sum256([]byte(o.Raw))
	return hex.EncodeToString(sum[:])[:16]
}

// Agent is a council member.
type Agent interface {
	Name() string
	Role() Role
	Deliberate(ctx context.Context, in Input) (Output, error)
}

// Synthesizer merges council output into concrete ledger changes.
type Synthesizer interface {
	Synthesize(ctx context.Context, in Input, outputs []Output) (Synthesis, error)
}

// Synthesis is the arbiter's decision for one run.
type Synthesis struct {
	Mind        ledger.MindUpdate
	Open        []ledger.ForecastOpenPayload
	Updates     []ProbabilityChange
	Resolutions []Resolution
}

// ProbabilityChange moves an open forecast to a new probability.
type ProbabilityChange struct {
	ForecastID  string
	Probability float64
}

// Resolution closes a forecast.
type Resolution struct {
	ForecastID string
	Outcome    bool
}

// Empty reports whether the synthesis changes nothing.
func (s Synthesis) Empty() bool {
	return s.Mind.Update == nil && len(s.Mind.Beliefs) == 0 && len(s.Mind.Risks) == 0 &&
		len(s.Mind.Deltas) == 0 && len(s.Open) == 0 && len(s.Updates) == 0 && len(s.Resolutions) == 0
}

// shortHash derives stable ids from text.
func shortHash(prefix, text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	return prefix + "-" + hex.EncodeToString(sum[:])[:10]
}

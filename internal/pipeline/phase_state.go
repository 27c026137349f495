package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/mirror/internal/agents"
	"github.com/dyluth/mirror/internal/mind"
	"github.com/dyluth/mirror/pkg/ledger"
)

// Phase is one step of a run. A run always moves through the phases in order
// and ends back at PhaseIdle, whether it completed or failed.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseIngesting    Phase = "ingesting"
	PhaseDeliberating Phase = "deliberating"
	PhaseSynthesizing Phase = "synthesizing"
	PhasePublishing   Phase = "publishing"
)

// ErrAlreadyRunning is returned when a run is requested while another is in
// progress. Rejected requests leave no trace on the ledger.
var ErrAlreadyRunning = errors.New("a pipeline run is already in progress")

// PhaseFailure reports a phase that exhausted its retries.
type PhaseFailure struct {
	Phase    Phase
	Attempts int
	Err      error
}

func (f *PhaseFailure) Error() string {
	return fmt.Sprintf("phase %s failed after %d attempts: %v", f.Phase, f.Attempts, f.Err)
}

func (f *PhaseFailure) Unwrap() error {
	return f.Err
}

// Status is the engine state exposed alongside the snapshot. Gate holds the
// quorum check of the current or last run once it has deliberated.
type Status struct {
	Phase     Phase     `json:"phase"`
	RunID     string    `json:"run_id,omitempty"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Gate      *Gate     `json:"gate,omitempty"`
}

// Gate is the deliberation quorum: how many council agents produced output
// against how many the run needs. Missing names the agents that failed.
type Gate struct {
	AgentsCompleted int      `json:"agents_completed"`
	AgentsRequired  int      `json:"agents_required"`
	Met             bool     `json:"met"`
	Missing         []string `json:"missing"`
}

// Running reports whether a run is in progress.
func (s Status) Running() bool {
	return s.Phase != PhaseIdle
}

// runState carries what one run has produced so far. Later phases read what
// earlier phases left here; retries of a phase extend rather than reset it.
type runState struct {
	id        string
	started   time.Time
	sources   int
	documents []ledger.IngestPayload
	outputs   []agents.Output
	synthesis agents.Synthesis
	appended  int
}

func (r *runState) input(now time.Time, snap *mind.Snapshot) agents.Input {
	return agents.Input{
		RunID:     r.id,
		Now:       now,
		Documents: r.documents,
		Snapshot:  snap,
	}
}

// Package live fans out transient pipeline events to connected viewers.
//
// Events are never persisted and carry no backlog: a subscriber only sees
// events published after it subscribed. Slow or dead subscribers are dropped
// so publishing never blocks the pipeline.
package live

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies live events.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventHeartbeat        EventType = "heartbeat"
	EventPhaseChange      EventType = "phase_change"
	EventIngestComplete   EventType = "ingest_complete"
	EventAgentComplete    EventType = "agent_complete"
	EventAgentFailed      EventType = "agent_failed"
	EventPhaseFailed      EventType = "phase_failed"
	EventLedgerAppend     EventType = "ledger_append"
	EventPipelineComplete EventType = "pipeline_complete"
	EventRunRejected      EventType = "run_rejected"
)

// Event is a single notification pushed to subscribers.
type Event struct {
	Type      EventType      `json:"type"`
	Phase     string         `json:"phase,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher accepts events for delivery. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// MarshalSSE encodes the event as a server-sent-event frame:
//
//	event: <type>
//	data: <json>
func (e Event) MarshalSSE() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, data)), nil
}

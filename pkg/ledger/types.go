package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a single immutable record in the Truth Ledger.
type Entry struct {
	Sequence  uint64          `json:"sequence"`  // Position in the chain, starting at 0
	Type      EntryType       `json:"type"`      // Payload tag
	Timestamp time.Time       `json:"timestamp"` // UTC, millisecond precision
	Payload   json.RawMessage `json:"payload"`   // Canonical JSON of the typed payload
	PrevHash  string          `json:"prev_hash"` // Hash of the previous entry, GenesisHash for sequence 0
	Hash      string          `json:"hash"`      // Lowercase hex SHA-256 of the canonical entry
}

// EntryType tags the payload carried by an entry.
type EntryType string

const (
	// EntryTypeIngest records a source document entering the system
	EntryTypeIngest EntryType = "INGEST"

	// EntryTypeForecastOpen records a new forecast with its initial probability
	EntryTypeForecastOpen EntryType = "FORECAST_OPEN"

	// EntryTypeForecastResolve records the outcome and Brier score of a forecast
	EntryTypeForecastResolve EntryType = "FORECAST_RESOLVE"

	// EntryTypeSystemUpdate records pipeline lifecycle events and mind updates
	EntryTypeSystemUpdate EntryType = "SYSTEM_UPDATE"
)

// Validate checks that the entry type is one of the known tags.
func (t EntryType) Validate() error {
	switch t {
	case EntryTypeIngest, EntryTypeForecastOpen, EntryTypeForecastResolve, EntryTypeSystemUpdate:
		return nil
	default:
		return fmt.Errorf("invalid entry type: %q", t)
	}
}

// Clone returns a deep copy of the entry so callers never share payload bytes
// with the ledger's internal state.
func (e Entry) Clone() Entry {
	c := e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return c
}

// Head identifies the last entry of a chain.
type Head struct {
	Sequence uint64 `json:"sequence"`
	Hash     string `json:"hash"`
	Length   uint64 `json:"length"`
}

// ListOptions controls paging over the ledger.
type ListOptions struct {
	Offset  int
	Limit   int
	Reverse bool // newest first
}

// Page is one window of ledger entries plus the total ledger length.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   uint64  `json:"total"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
}

// VerifyReport is the outcome of a full chain verification.
type VerifyReport struct {
	Valid    bool    `json:"valid"`
	Entries  uint64  `json:"entries"`
	BrokenAt *uint64 `json:"broken_at,omitempty"` // Sequence of the first invalid entry
	Reason   string  `json:"reason,omitempty"`
}

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the prev_hash of the first entry in every ledger.
var GenesisHash = strings.Repeat("0", 64)

// timestampLayout fixes the textual form of timestamps inside the hashed bytes.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// canonicalEntry is the exact structure that gets hashed. Field order is fixed by
// the struct and payload bytes are already canonical JSON.
type canonicalEntry struct {
	Sequence  uint64          `json:"sequence"`
	Type      EntryType       `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
}

// ComputeHash returns the lowercase hex SHA-256 of the entry's canonical form.
// The entry's own Hash field is ignored.
func ComputeHash(e Entry) (string, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	data, err := json.Marshal(canonicalEntry{
		Sequence:  e.Sequence,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(timestampLayout),
		Payload:   payload,
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode entry %d for hashing: %w", e.Sequence, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeTimestamp truncates to the precision every backend round-trips.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// checkLink verifies entry against its predecessor's hash and sequence.
// It returns a non-empty reason when the link is broken.
func checkLink(e Entry, wantSeq uint64, wantPrev string) string {
	if e.Sequence != wantSeq {
		return fmt.Sprintf("sequence gap: expected %d, found %d", wantSeq, e.Sequence)
	}
	if e.PrevHash != wantPrev {
		return fmt.Sprintf("prev_hash mismatch at %d", e.Sequence)
	}
	if err := e.Type.Validate(); err != nil {
		return err.Error()
	}
	got, err := ComputeHash(e)
	if err != nil {
		return err.Error()
	}
	if got != e.Hash {
		return fmt.Sprintf("hash mismatch at %d: stored %s, computed %s", e.Sequence, short(e.Hash), short(got))
	}
	return ""
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// VerifyEntries checks a complete chain starting at sequence 0.
func VerifyEntries(entries []Entry) VerifyReport {
	prev := GenesisHash
	for i, e := range entries {
		if reason := checkLink(e, uint64(i), prev); reason != "" {
			at := uint64(i)
			return VerifyReport{Valid: false, Entries: uint64(len(entries)), BrokenAt: &at, Reason: reason}
		}
		prev = e.Hash
	}
	return VerifyReport{Valid: true, Entries: uint64(len(entries))}
}

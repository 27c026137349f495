package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryTypeValidate(t *testing.T) {
	for _, et := range []EntryType{EntryTypeIngest, EntryTypeForecastOpen, EntryTypeForecastResolve, EntryTypeSystemUpdate} {
		assert.NoError(t, et.Validate(), et)
	}
	err := EntryType("DELETE").Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid entry type")
}

func TestSourceID(t *testing.T) {
	id := SourceID("https://example.com/story")
	assert.Len(t, id, 12)
	assert.Equal(t, id, SourceID("  https://example.com/story "))
	assert.NotEqual(t, id, SourceID("https://example.com/other"))
}

func TestPayloadValidate(t *testing.T) {
	p := 0.4
	bad := 1.2
	tests := []struct {
		name    string
		payload Payload
		wantErr string
	}{
		{"ingest ok", &IngestPayload{SourceID: "abc", Title: "t"}, ""},
		{"ingest missing source id", &IngestPayload{Title: "t"}, "source_id is required"},
		{"open ok", &ForecastOpenPayload{ForecastID: "f", Question: "q", Probability: 0}, ""},
		{"open missing question", &ForecastOpenPayload{ForecastID: "f", Probability: 0.5}, "question is required"},
		{"open negative probability", &ForecastOpenPayload{ForecastID: "f", Question: "q", Probability: -0.1}, "probability must be within"},
		{"resolve ok", &ForecastResolvePayload{ForecastID: "f", Outcome: false, Probability: 0.7, BrierScore: 0.49}, ""},
		{"resolve wrong brier", &ForecastResolvePayload{ForecastID: "f", Outcome: true, Probability: 0.7, BrierScore: 0.49}, "does not match"},
		{"probability update ok", &SystemUpdatePayload{Kind: KindProbabilityUpdate, ForecastID: "f", Probability: &p}, ""},
		{"probability update out of range", &SystemUpdatePayload{Kind: KindProbabilityUpdate, ForecastID: "f", Probability: &bad}, "probability must be within"},
		{"probability update missing value", &SystemUpdatePayload{Kind: KindProbabilityUpdate, ForecastID: "f"}, "requires probability"},
		{"phase failed needs phase", &SystemUpdatePayload{Kind: KindPhaseFailed}, "requires phase"},
		{"mind update needs mind", &SystemUpdatePayload{Kind: KindMindUpdate}, "requires mind"},
		{"mind update bad belief", &SystemUpdatePayload{Kind: KindMindUpdate, Mind: &MindUpdate{
			Beliefs: []Belief{{ID: "b", Status: "confused", Confidence: 10}},
		}}, "invalid belief status"},
		{"mind update bad risk", &SystemUpdatePayload{Kind: KindMindUpdate, Mind: &MindUpdate{
			Risks: []Risk{{ID: "r", Status: RiskDormant, Severity: "extreme"}},
		}}, "invalid risk severity"},
		{"unknown kind", &SystemUpdatePayload{Kind: "reboot"}, "invalid system update kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Run("decodes each tag into its payload type", func(t *testing.T) {
		payloads := []Payload{
			&IngestPayload{SourceID: "abc", Title: "t", URL: "u"},
			&ForecastOpenPayload{ForecastID: "f", Question: "q", Probability: 0.3},
			&ForecastResolvePayload{ForecastID: "f", Outcome: true, Probability: 0.3, BrierScore: BrierScore(0.3, true)},
			&SystemUpdatePayload{Kind: KindRunCompleted, RunID: "run-1"},
		}
		for _, p := range payloads {
			data, err := Marshal(p)
			require.NoError(t, err)

			decoded, err := Entry{Type: p.EntryType(), Payload: data}.Decode()
			require.NoError(t, err)
			assert.Equal(t, p, decoded)
		}
	})

	t.Run("rejects unknown tag", func(t *testing.T) {
		_, err := Entry{Type: "PURGE", Payload: json.RawMessage(`{}`)}.Decode()
		assert.Error(t, err)
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		_, err := Entry{Type: EntryTypeIngest, Payload: json.RawMessage(`{"source_id":`)}.Decode()
		assert.Error(t, err)
	})
}

func TestComputeHash(t *testing.T) {
	e := Entry{
		Sequence:  3,
		Type:      EntryTypeIngest,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 123_000_000, time.UTC),
		Payload:   json.RawMessage(`{"source_id":"abc","title":"t","url":"u"}`),
		PrevHash:  GenesisHash,
	}

	h1, err := ComputeHash(e)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	t.Run("ignores stored hash and location", func(t *testing.T) {
		other := e
		other.Hash = "whatever"
		other.Timestamp = e.Timestamp.In(time.FixedZone("CET", 3600))
		h2, err := ComputeHash(other)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
	})

	t.Run("covers every hashed field", func(t *testing.T) {
		mutations := map[string]func(*Entry){
			"sequence":  func(x *Entry) { x.Sequence++ },
			"type":      func(x *Entry) { x.Type = EntryTypeSystemUpdate },
			"timestamp": func(x *Entry) { x.Timestamp = x.Timestamp.Add(time.Millisecond) },
			"payload":   func(x *Entry) { x.Payload = json.RawMessage(`{"source_id":"abd","title":"t","url":"u"}`) },
			"prev_hash": func(x *Entry) { x.PrevHash = "1" + GenesisHash[1:] },
		}
		for name, mutate := range mutations {
			other := e
			mutate(&other)
			h, err := ComputeHash(other)
			require.NoError(t, err)
			assert.NotEqual(t, h1, h, name)
		}
	})
}

func TestEntryJSONRoundTripKeepsHash(t *testing.T) {
	e := Entry{
		Sequence:  0,
		Type:      EntryTypeForecastOpen,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 5_000_000, time.UTC),
		Payload:   json.RawMessage(`{"forecast_id":"f","question":"q","probability":0.25}`),
		PrevHash:  GenesisHash,
	}
	var err error
	e.Hash, err = ComputeHash(e)
	require.NoError(t, err)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	var back Entry
	require.NoError(t, json.Unmarshal(data, &back))

	report := VerifyEntries([]Entry{back})
	assert.True(t, report.Valid, report.Reason)
}

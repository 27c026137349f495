package ledgerview

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dyluth/mirror/internal/resolver"
	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	now   = start.Add(3 * time.Hour)
)

// setupLedger returns a ledger with six entries written 30 minutes apart.
func setupLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()

	tick := start.Add(-30 * time.Minute)
	clock := func() time.Time {
		tick = tick.Add(30 * time.Minute)
		return tick
	}
	l, err := ledger.Open(ctx, ledger.NewMemoryBackend(), ledger.WithClock(clock))
	require.NoError(t, err)

	p := 0.4
	payloads := []ledger.Payload{
		&ledger.SystemUpdatePayload{Kind: ledger.KindRunStarted, RunID: "r1-run"},
		&ledger.IngestPayload{
			SourceID: ledger.SourceID("https://wire.example/1"),
			Title:    "Central bank holds rates",
			URL:      "https://wire.example/1",
			Feed:     "wire",
		},
		&ledger.ForecastOpenPayload{ForecastID: "fc-abc", Question: "Will rates fall?", Probability: 0.3},
		&ledger.SystemUpdatePayload{Kind: ledger.KindProbabilityUpdate, RunID: "r1-run", ForecastID: "fc-abc", Probability: &p},
		&ledger.ForecastResolvePayload{ForecastID: "fc-abc", Outcome: true, Probability: 0.4, BrierScore: ledger.BrierScore(0.4, true)},
		&ledger.SystemUpdatePayload{Kind: ledger.KindPhaseFailed, RunID: "r2-run", Phase: "ingesting", Message: "all 2 sources failed"},
	}
	for _, pl := range payloads {
		_, err := l.Append(ctx, pl)
		require.NoError(t, err)
	}
	return l
}

func entries(t *testing.T, l *ledger.Ledger) []ledger.Entry {
	t.Helper()
	all, err := l.Entries(context.Background())
	require.NoError(t, err)
	return all
}

func TestSummary(t *testing.T) {
	all := entries(t, setupLedger(t))

	want := []string{
		"run_started run=r1-run",
		"Central bank holds rates [wire]",
		"fc-abc: Will rates fall? (p=0.30)",
		"probability_update fc-abc -> 0.40",
		"fc-abc resolved yes (brier 0.3600)",
		"phase_failed ingesting: all 2 sources failed",
	}
	for i, e := range all {
		assert.Equal(t, want[i], Summary(e), "entry %d", i)
	}

	assert.Equal(t, "(undecodable payload)", Summary(ledger.Entry{Type: "BOGUS"}))
}

func TestFormatTable(t *testing.T) {
	all := entries(t, setupLedger(t))

	var buf bytes.Buffer
	n := FormatTable(&buf, all, "newsroom", now)
	assert.Equal(t, 6, n)

	out := buf.String()
	assert.Contains(t, out, "Ledger for instance 'newsroom':")
	assert.Contains(t, out, "SEQ    HASH       TYPE      AGE      SUMMARY")
	assert.Contains(t, out, all[0].Hash[:8])
	assert.Contains(t, out, "3h ago")
	assert.Contains(t, out, "30m ago")
	assert.Contains(t, out, "FC_OPEN")
	assert.Contains(t, out, "6 entries found")

	buf.Reset()
	assert.Equal(t, 0, FormatTable(&buf, nil, "newsroom", now))
	assert.Equal(t, "No ledger entries found for instance 'newsroom'\n", buf.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatAge(time.Time{}, now))
	assert.Equal(t, "future", formatAge(now.Add(time.Minute), now))
	assert.Equal(t, "45s ago", formatAge(now.Add(-45*time.Second), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour), now))

	assert.Equal(t, "abcdef12", formatHash("abcdef1234567890"))
	assert.Equal(t, "short", formatHash("short"))

	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hello w...", truncate("hello world!", 10))
	assert.Equal(t, "second", firstLine("\n  \n second \nthird"))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)

	sequences := func(t *testing.T, opts ListOptions) []uint64 {
		t.Helper()
		opts.Format = OutputFormatJSONL
		var buf bytes.Buffer
		require.NoError(t, List(ctx, l, "newsroom", opts, &buf))

		var seqs []uint64
		sc := bufio.NewScanner(&buf)
		for sc.Scan() {
			var e ledger.Entry
			require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
			seqs = append(seqs, e.Sequence)
		}
		return seqs
	}

	tests := []struct {
		name   string
		opts   ListOptions
		expect []uint64
	}{
		{"everything", ListOptions{}, []uint64{0, 1, 2, 3, 4, 5}},
		{"type glob", ListOptions{Filter: &Filter{TypeGlob: "forecast_*"}}, []uint64{2, 4}},
		{"kind", ListOptions{Filter: &Filter{Kind: "phase_failed"}}, []uint64{5}},
		{"run prefix", ListOptions{Filter: &Filter{RunID: "r1"}}, []uint64{0, 3}},
		{"since", ListOptions{Filter: &Filter{Since: start.Add(2 * time.Hour)}}, []uint64{4, 5}},
		{"until", ListOptions{Filter: &Filter{Until: start.Add(30 * time.Minute)}}, []uint64{0, 1}},
		{"limit keeps newest", ListOptions{Limit: 2}, []uint64{4, 5}},
		{"combined", ListOptions{Filter: &Filter{TypeGlob: "SYSTEM_UPDATE", RunID: "r1"}, Limit: 1}, []uint64{3}},
		{"bad glob matches nothing", ListOptions{Filter: &Filter{TypeGlob: "["}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, sequences(t, tt.opts))
		})
	}

	t.Run("json array", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, l, "newsroom", ListOptions{Format: OutputFormatJSON, Filter: &Filter{Kind: "nothing"}}, &buf))
		assert.Equal(t, "[]\n", buf.String())
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, l, "newsroom", ListOptions{Limit: 1, Now: now}, &buf))
		assert.Contains(t, buf.String(), "1 entry found")
	})

	t.Run("unknown format", func(t *testing.T) {
		err := List(ctx, l, "newsroom", ListOptions{Format: "xml"}, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown output format")
	})
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatDefault, f)

	f, err = ParseFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, OutputFormatJSONL, f)

	_, err = ParseFormat("yaml")
	assert.ErrorContains(t, err, "valid formats: default, jsonl, json")
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t)
	all := entries(t, l)

	var buf bytes.Buffer
	require.NoError(t, Get(ctx, l, "#2", &buf))
	var got ledger.Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, all[2].Hash, got.Hash)
	assert.True(t, strings.Contains(buf.String(), "\n  \"payload\": {"), "payload is indented")

	buf.Reset()
	require.NoError(t, Get(ctx, l, all[4].Hash[:10], &buf))
	assert.Contains(t, buf.String(), `"FORECAST_RESOLVE"`)

	err := Get(ctx, l, "#99", &buf)
	assert.True(t, resolver.IsNotFoundError(err))
}

func TestFormatVerify(t *testing.T) {
	var buf bytes.Buffer
	FormatVerify(&buf, ledger.VerifyReport{Valid: true, Entries: 6})
	assert.Equal(t, "Chain intact: 6 entries verified\n", buf.String())

	buf.Reset()
	at := uint64(3)
	FormatVerify(&buf, ledger.VerifyReport{Entries: 6, BrokenAt: &at, Reason: "hash mismatch"})
	assert.Equal(t, "Chain BROKEN at sequence 3 of 6: hash mismatch\n", buf.String())
}

func TestFormatForecasts(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, 0, FormatForecasts(&buf, nil))
	assert.Equal(t, "No forecasts recorded\n", buf.String())

	buf.Reset()
	brier := 0.09
	yes := true
	n := FormatForecasts(&buf, []ledger.Forecast{
		{ID: "fc-rates", Question: "Will rates be cut?", Probability: 0.7, Status: ledger.ForecastResolved, Outcome: &yes, BrierScore: &brier},
		{ID: "fc-oil", Question: "Will oil pass $100?\nSecond line", Probability: 0.25, Status: ledger.ForecastOpen},
	})
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "fc-rates")
	assert.Contains(t, lines[1], "resolved")
	assert.Contains(t, lines[1], "0.0900")
	assert.Contains(t, lines[2], "0.25")
	assert.Contains(t, lines[2], "Will oil pass $100?")
	assert.NotContains(t, lines[2], "Second line")
	assert.Equal(t, "2 forecasts", lines[4])
}

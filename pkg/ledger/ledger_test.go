package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a clock that advances one second per call.
func fixedClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// setupTestLedger opens a ledger over a fresh in-memory backend.
func setupTestLedger(t *testing.T) (*Ledger, *MemoryBackend) {
	backend := NewMemoryBackend()
	l, err := Open(context.Background(), backend, WithClock(fixedClock()))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, backend
}

func ingest(url string) *IngestPayload {
	return &IngestPayload{SourceID: SourceID(url), Title: "Doc " + url, URL: url}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()

	t.Run("first entry links to genesis", func(t *testing.T) {
		l, _ := setupTestLedger(t)

		e, err := l.Append(ctx, ingest("https://example.com/a"))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), e.Sequence)
		assert.Equal(t, GenesisHash, e.PrevHash)
		assert.Len(t, e.Hash, 64)
		assert.Equal(t, EntryTypeIngest, e.Type)
	})

	t.Run("ingest, open, resolve produce a chain of three", func(t *testing.T) {
		l, _ := setupTestLedger(t)

		e0, err := l.Append(ctx, ingest("https://example.com/a"))
		require.NoError(t, err)
		e1, err := l.Append(ctx, &ForecastOpenPayload{ForecastID: "fc-1", Question: "Q?", Probability: 0.7})
		require.NoError(t, err)
		e2, err := l.Append(ctx, &ForecastResolvePayload{ForecastID: "fc-1", Outcome: true, Probability: 0.7, BrierScore: 0.09})
		require.NoError(t, err)

		assert.Equal(t, []uint64{0, 1, 2}, []uint64{e0.Sequence, e1.Sequence, e2.Sequence})
		assert.Equal(t, e0.Hash, e1.PrevHash)
		assert.Equal(t, e1.Hash, e2.PrevHash)

		report, err := l.Verify(ctx)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.Equal(t, uint64(3), report.Entries)
	})

	t.Run("chain verifies after every append", func(t *testing.T) {
		l, _ := setupTestLedger(t)
		for i := 0; i < 20; i++ {
			_, err := l.Append(ctx, &SystemUpdatePayload{Kind: KindRunStarted, RunID: "r"})
			require.NoError(t, err)
			report, err := l.Verify(ctx)
			require.NoError(t, err)
			require.True(t, report.Valid, "chain broken after append %d: %s", i, report.Reason)
		}
	})

	t.Run("rejects invalid payload without writing", func(t *testing.T) {
		l, _ := setupTestLedger(t)

		_, err := l.Append(ctx, &ForecastOpenPayload{ForecastID: "fc-1", Question: "Q?", Probability: 1.5})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "probability must be within")

		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
	})

	t.Run("batch validates every payload first", func(t *testing.T) {
		l, _ := setupTestLedger(t)

		_, err := l.AppendBatch(ctx,
			ingest("https://example.com/a"),
			&SystemUpdatePayload{Kind: "bogus"},
		)
		require.Error(t, err)

		n, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)
	})

	t.Run("returned entries are copies", func(t *testing.T) {
		l, _ := setupTestLedger(t)
		e, err := l.Append(ctx, ingest("https://example.com/a"))
		require.NoError(t, err)

		e.Payload[0] = 'X'

		stored, err := l.Get(ctx, 0)
		require.NoError(t, err)
		assert.True(t, json.Valid(stored.Payload))
	})
}

func TestTamperDetection(t *testing.T) {
	ctx := context.Background()

	for _, target := range []uint64{0, 2, 4} {
		l, backend := setupTestLedger(t)
		for i := 0; i < 5; i++ {
			_, err := l.Append(ctx, ingest("https://example.com/"+string(rune('a'+i))))
			require.NoError(t, err)
		}

		backend.Tamper(target, func(e *Entry) {
			e.Payload = json.RawMessage(`{"source_id":"forged","title":"forged"}`)
		})

		report, err := l.Verify(ctx)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		require.NotNil(t, report.BrokenAt)
		assert.Equal(t, target, *report.BrokenAt)
		assert.Contains(t, report.Reason, "hash mismatch")

		_, err = l.Append(ctx, ingest("https://example.com/z"))
		require.Error(t, err)
		assert.True(t, IsIntegrityError(err))
	}
}

func TestTailTamperSealsOnAppend(t *testing.T) {
	ctx := context.Background()
	l, backend := setupTestLedger(t)

	_, err := l.Append(ctx, ingest("https://example.com/a"))
	require.NoError(t, err)
	backend.Tamper(0, func(e *Entry) { e.Type = EntryTypeSystemUpdate })

	_, err = l.Append(ctx, ingest("https://example.com/b"))
	var ie *IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, uint64(0), ie.Sequence)

	// Sealed: even a valid append is refused and nothing is written.
	_, err = l.Append(ctx, ingest("https://example.com/c"))
	assert.True(t, IsIntegrityError(err))
	assert.Error(t, l.Sealed())

	n, err := l.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestOpenBrokenLedgerIsSealed(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	l, err := Open(ctx, backend)
	require.NoError(t, err)
	_, err = l.Append(ctx, ingest("https://example.com/a"))
	require.NoError(t, err)
	backend.Tamper(0, func(e *Entry) { e.PrevHash = "deadbeef" })

	reopened, err := Open(ctx, backend)
	require.NoError(t, err)
	assert.True(t, IsIntegrityError(reopened.Sealed()))

	// Reads still work.
	entries, err := reopened.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	l, _ := setupTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, &SystemUpdatePayload{Kind: KindRunStarted})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	report, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, uint64(50), report.Entries)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	l, _ := setupTestLedger(t)
	for i := 0; i < 10; i++ {
		_, err := l.Append(ctx, &SystemUpdatePayload{Kind: KindRunStarted})
		require.NoError(t, err)
	}

	sequences := func(p Page) []uint64 {
		out := make([]uint64, 0, len(p.Entries))
		for _, e := range p.Entries {
			out = append(out, e.Sequence)
		}
		return out
	}

	tests := []struct {
		name string
		opts ListOptions
		want []uint64
	}{
		{"ascending first page", ListOptions{Offset: 0, Limit: 3}, []uint64{0, 1, 2}},
		{"ascending second page", ListOptions{Offset: 3, Limit: 3}, []uint64{3, 4, 5}},
		{"ascending tail clipped", ListOptions{Offset: 8, Limit: 5}, []uint64{8, 9}},
		{"descending first page", ListOptions{Offset: 0, Limit: 3, Reverse: true}, []uint64{9, 8, 7}},
		{"descending last page", ListOptions{Offset: 8, Limit: 3, Reverse: true}, []uint64{1, 0}},
		{"offset past end", ListOptions{Offset: 20, Limit: 3}, []uint64{}},
		{"no limit", ListOptions{Offset: 7}, []uint64{7, 8, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := l.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), page.Total)
			assert.Equal(t, tt.want, sequences(page))
		})
	}
}

func TestHeadAndTail(t *testing.T) {
	ctx := context.Background()
	l, _ := setupTestLedger(t)

	head, err := l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, GenesisHash, head.Hash)
	assert.Equal(t, uint64(0), head.Length)

	var last Entry
	for i := 0; i < 4; i++ {
		last, err = l.Append(ctx, &SystemUpdatePayload{Kind: KindRunStarted})
		require.NoError(t, err)
	}

	head, err = l.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, last.Hash, head.Hash)
	assert.Equal(t, uint64(4), head.Length)

	tail, err := l.Tail(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(2), tail[0].Sequence)
	assert.Equal(t, uint64(3), tail[1].Sequence)
}

func TestGetAndFindByHashPrefix(t *testing.T) {
	ctx := context.Background()
	l, _ := setupTestLedger(t)
	e, err := l.Append(ctx, ingest("https://example.com/a"))
	require.NoError(t, err)

	_, err = l.Get(ctx, 5)
	assert.True(t, IsNotFound(err))

	matches, err := l.FindByHashPrefix(ctx, e.Hash[:8])
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, e.Hash, matches[0].Hash)
}

func TestTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	times := []time.Time{
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	i := 0
	l, err := Open(ctx, NewMemoryBackend(), WithClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}))
	require.NoError(t, err)

	e0, err := l.Append(ctx, &SystemUpdatePayload{Kind: KindRunStarted})
	require.NoError(t, err)
	e1, err := l.Append(ctx, &SystemUpdatePayload{Kind: KindRunCompleted})
	require.NoError(t, err)
	assert.False(t, e1.Timestamp.Before(e0.Timestamp))
}

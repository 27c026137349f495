package mind

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dyluth/mirror/pkg/ledger"
	"github.com/rs/zerolog"
)

// ErrDuplicateForecast is returned when opening a forecast id that already exists.
var ErrDuplicateForecast = errors.New("forecast already exists")

// Store owns the current Snapshot. Reads are lock-free; Commit and Rebuild are
// serialised and publish a new snapshot only after the ledger append succeeded.
type Store struct {
	ledger  *ledger.Ledger
	logger  zerolog.Logger
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// NewStore creates a store over l holding an empty snapshot. Call Rebuild to
// load existing ledger content.
func NewStore(l *ledger.Ledger, logger zerolog.Logger) *Store {
	s := &Store{ledger: l, logger: logger.With().Str("component", "mind").Logger()}
	s.current.Store(Empty())
	return s
}

// Read returns the last committed snapshot. It never blocks.
func (s *Store) Read() *Snapshot {
	return s.current.Load()
}

// Ledger exposes the underlying ledger for read paths.
func (s *Store) Ledger() *ledger.Ledger {
	return s.ledger
}

// Rebuild replays the entire ledger and swaps the result in.
func (s *Store) Rebuild(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *Store) rebuildLocked(ctx context.Context) (*Snapshot, error) {
	entries, err := s.ledger.Entries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	snap, err := Replay(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}
	s.current.Store(snap)
	s.logger.Info().
		Uint64("entries", snap.Stats.Entries).
		Int("forecasts", snap.Stats.Forecasts).
		Str("head", snap.Head.Hash).
		Msg("Rebuilt mind from ledger")
	return snap, nil
}

// Sync catches the snapshot up with entries that other processes sharing the
// backend appended since the last commit or rebuild. When nothing changed it
// costs one length lookup. New entries that do not link to the current head
// trigger a full rebuild; entries whose hash does not verify are not applied.
func (s *Store) Sync(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) (*Snapshot, error) {
	cur := s.current.Load()
	n, err := s.ledger.Len(ctx)
	if err != nil {
		return cur, fmt.Errorf("failed to read ledger length: %w", err)
	}
	have := cur.Stats.Entries
	switch {
	case n == have:
		return cur, nil
	case n < have:
		return s.rebuildLocked(ctx)
	}

	page, err := s.ledger.List(ctx, ledger.ListOptions{Offset: int(have), Limit: int(n - have)})
	if err != nil {
		return cur, fmt.Errorf("failed to read new ledger entries: %w", err)
	}

	next := cur.Clone()
	for _, e := range page.Entries {
		if e.PrevHash != next.Head.Hash {
			s.logger.Warn().Uint64("sequence", e.Sequence).Msg("Ledger head moved unexpectedly, rebuilding")
			return s.rebuildLocked(ctx)
		}
		if got, err := ledger.ComputeHash(e); err != nil || got != e.Hash {
			return cur, &ledger.IntegrityError{Sequence: e.Sequence, Reason: "hash mismatch on synced entry"}
		}
		if err := next.apply(e); err != nil {
			return cur, fmt.Errorf("failed to apply synced entry: %w", err)
		}
	}
	s.current.Store(next)
	s.logger.Debug().
		Uint64("from", have).
		Uint64("entries", next.Stats.Entries).
		Msg("Synced mind with ledger")
	return next, nil
}

// Commit syncs with the ledger, validates payloads against the snapshot, appends them to the
// ledger as one batch and publishes the resulting snapshot. Ingest payloads for
// sources that were already ingested are dropped; if nothing remains, Commit is
// a no-op and returns the current snapshot with no entries.
//
// Readers keep seeing the previous snapshot until the append has completed.
// If the append fails after some entries were written, those entries are still
// applied so the snapshot never lags the ledger.
func (s *Store) Commit(ctx context.Context, payloads ...ledger.Payload) (*Snapshot, []ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.syncLocked(ctx)
	if err != nil {
		return cur, nil, err
	}
	accepted, err := filterPayloads(cur, payloads)
	if err != nil {
		return cur, nil, err
	}
	if len(accepted) == 0 {
		return cur, nil, nil
	}

	entries, appendErr := s.ledger.AppendBatch(ctx, accepted...)
	if len(entries) == 0 {
		return cur, nil, appendErr
	}

	next := cur.Clone()
	for _, e := range entries {
		if err := next.apply(e); err != nil {
			// The ledger moved under us; fall back to a full replay.
			s.logger.Warn().Err(err).Msg("Incremental apply failed, rebuilding")
			snap, rerr := s.rebuildLocked(ctx)
			if rerr != nil {
				return cur, entries, errors.Join(err, rerr)
			}
			return snap, entries, appendErr
		}
	}
	s.current.Store(next)
	return next, entries, appendErr
}

// filterPayloads drops already-ingested sources and rejects changes that
// reference forecasts in the wrong state. It tracks changes within the batch
// so a forecast opened earlier in the same batch can be updated later in it,
// and a resolution is scored against the probability held at that point of
// the batch.
func filterPayloads(cur *Snapshot, payloads []ledger.Payload) ([]ledger.Payload, error) {
	seenSources := map[string]struct{}{}
	status := map[string]ledger.ForecastStatus{}
	probability := map[string]float64{}
	held := func(id string) float64 {
		if p, ok := probability[id]; ok {
			return p
		}
		return cur.Forecasts[id].Probability
	}
	lookup := func(id string) (ledger.ForecastStatus, bool) {
		if st, ok := status[id]; ok {
			return st, true
		}
		if f, ok := cur.Forecasts[id]; ok {
			return f.Status, true
		}
		return "", false
	}
	requireOpen := func(id string) error {
		st, ok := lookup(id)
		if !ok {
			return fmt.Errorf("forecast %s: %w", id, ledger.ErrNotFound)
		}
		if st == ledger.ForecastResolved {
			return fmt.Errorf("forecast %s: %w", id, ledger.ErrForecastClosed)
		}
		return nil
	}

	out := make([]ledger.Payload, 0, len(payloads))
	for _, p := range payloads {
		switch pl := p.(type) {
		case *ledger.IngestPayload:
			if cur.HasSource(pl.SourceID) {
				continue
			}
			if _, dup := seenSources[pl.SourceID]; dup {
				continue
			}
			seenSources[pl.SourceID] = struct{}{}

		case *ledger.ForecastOpenPayload:
			if _, ok := lookup(pl.ForecastID); ok {
				return nil, fmt.Errorf("forecast %s: %w", pl.ForecastID, ErrDuplicateForecast)
			}
			status[pl.ForecastID] = ledger.ForecastOpen
			probability[pl.ForecastID] = pl.Probability

		case *ledger.ForecastResolvePayload:
			if err := requireOpen(pl.ForecastID); err != nil {
				return nil, err
			}
			status[pl.ForecastID] = ledger.ForecastResolved
			if ph := held(pl.ForecastID); ph != pl.Probability {
				p = &ledger.ForecastResolvePayload{
					ForecastID:  pl.ForecastID,
					Outcome:     pl.Outcome,
					Probability: ph,
					BrierScore:  ledger.BrierScore(ph, pl.Outcome),
				}
			}

		case *ledger.SystemUpdatePayload:
			if pl.Kind == ledger.KindProbabilityUpdate {
				if err := requireOpen(pl.ForecastID); err != nil {
					return nil, err
				}
				if pl.Probability != nil {
					probability[pl.ForecastID] = *pl.Probability
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// verifyChunk bounds how many entries are loaded at once while walking the chain.
const verifyChunk = 1000

// Ledger is the single writer over a Backend. It is safe for concurrent use:
// appends are serialised, reads go straight to the backend.
type Ledger struct {
	mu      sync.Mutex
	backend Backend
	clock   func() time.Time
	sealed  *IntegrityError
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source used for new entries.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// Open wraps backend and verifies the persisted chain. A broken chain does not
// fail Open: the returned ledger is readable but sealed, see Sealed.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Ledger, error) {
	if backend == nil {
		return nil, fmt.Errorf("ledger backend cannot be nil")
	}
	l := &Ledger{backend: backend, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if _, err := l.Verify(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify ledger: %w", err)
	}
	return l, nil
}

// Sealed returns the IntegrityError that stopped appends, or nil.
func (l *Ledger) Sealed() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed == nil {
		return nil
	}
	return l.sealed
}

func (l *Ledger) seal(seq uint64, reason string) *IntegrityError {
	if l.sealed == nil {
		l.sealed = &IntegrityError{Sequence: seq, Reason: reason}
	}
	return l.sealed
}

// Append validates, chains and persists a single payload.
func (l *Ledger) Append(ctx context.Context, p Payload) (Entry, error) {
	entries, err := l.AppendBatch(ctx, p)
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// AppendBatch appends payloads in order while holding the writer lock, so no
// other append interleaves. All payloads are validated before anything is
// written. If the backend fails midway, the entries already written are
// returned together with the error.
func (l *Ledger) AppendBatch(ctx context.Context, payloads ...Payload) ([]Entry, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no payloads to append")
	}

	encoded := make([]Entry, len(payloads))
	for i, p := range payloads {
		data, err := Marshal(p)
		if err != nil {
			return nil, err
		}
		encoded[i] = Entry{Type: p.EntryType(), Payload: data}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed != nil {
		return nil, l.sealed
	}

	tail, ok, err := l.backend.Tail(ctx)
	if err != nil {
		return nil, err
	}
	seq, prev := uint64(0), GenesisHash
	var last time.Time
	if ok {
		got, err := ComputeHash(tail)
		if err != nil {
			return nil, l.seal(tail.Sequence, err.Error())
		}
		if got != tail.Hash {
			return nil, l.seal(tail.Sequence, "stored tail hash does not match its content")
		}
		seq, prev, last = tail.Sequence+1, tail.Hash, tail.Timestamp
	}

	appended := make([]Entry, 0, len(encoded))
	for _, e := range encoded {
		ts := normalizeTimestamp(l.clock())
		if ts.Before(last) {
			ts = last
		}
		e.Sequence, e.Timestamp, e.PrevHash = seq, ts, prev
		e.Hash, err = ComputeHash(e)
		if err != nil {
			return appended, err
		}
		if err := l.backend.Append(ctx, e, prev); err != nil {
			if errors.Is(err, ErrTailMoved) {
				return appended, fmt.Errorf("concurrent writer detected at sequence %d: %w", seq, err)
			}
			return appended, err
		}
		appended = append(appended, e.Clone())
		seq, prev, last = seq+1, e.Hash, ts
	}
	return appended, nil
}

// Verify recomputes the whole chain. A broken chain is reported in the
// VerifyReport and seals the ledger; err is only set for storage failures.
func (l *Ledger) Verify(ctx context.Context) (VerifyReport, error) {
	total, err := l.backend.Len(ctx)
	if err != nil {
		return VerifyReport{}, err
	}

	prev := GenesisHash
	for start := uint64(0); start < total; start += verifyChunk {
		chunk, err := l.backend.Range(ctx, start, start+verifyChunk)
		if err != nil {
			return VerifyReport{}, err
		}
		for i, e := range chunk {
			seq := start + uint64(i)
			if reason := checkLink(e, seq, prev); reason != "" {
				l.mu.Lock()
				l.seal(seq, reason)
				l.mu.Unlock()
				at := seq
				return VerifyReport{Valid: false, Entries: total, BrokenAt: &at, Reason: reason}, nil
			}
			prev = e.Hash
		}
	}
	return VerifyReport{Valid: true, Entries: total}, nil
}

// Len returns the number of entries.
func (l *Ledger) Len(ctx context.Context) (uint64, error) {
	return l.backend.Len(ctx)
}

// Head returns the last entry's sequence and hash. An empty ledger reports
// GenesisHash and length 0.
func (l *Ledger) Head(ctx context.Context) (Head, error) {
	tail, ok, err := l.backend.Tail(ctx)
	if err != nil {
		return Head{}, err
	}
	if !ok {
		return Head{Hash: GenesisHash}, nil
	}
	return Head{Sequence: tail.Sequence, Hash: tail.Hash, Length: tail.Sequence + 1}, nil
}

// Entries returns every entry in ascending order.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	total, err := l.backend.Len(ctx)
	if err != nil {
		return nil, err
	}
	return l.backend.Range(ctx, 0, total)
}

// Get returns the entry at seq.
func (l *Ledger) Get(ctx context.Context, seq uint64) (Entry, error) {
	entries, err := l.backend.Range(ctx, seq, seq+1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("entry %d: %w", seq, ErrNotFound)
	}
	return entries[0], nil
}

// Tail returns up to n most recent entries in ascending order.
func (l *Ledger) Tail(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return []Entry{}, nil
	}
	total, err := l.backend.Len(ctx)
	if err != nil {
		return nil, err
	}
	start := uint64(0)
	if total > uint64(n) {
		start = total - uint64(n)
	}
	return l.backend.Range(ctx, start, total)
}

// List returns one page of entries. With Reverse set, offset counts from the
// newest entry and the page is ordered newest first. A non-positive Limit
// returns everything after the offset.
func (l *Ledger) List(ctx context.Context, opts ListOptions) (Page, error) {
	total, err := l.backend.Len(ctx)
	if err != nil {
		return Page{}, err
	}
	page := Page{Entries: []Entry{}, Total: total, Offset: opts.Offset, Limit: opts.Limit}

	offset := uint64(0)
	if opts.Offset > 0 {
		offset = uint64(opts.Offset)
	}
	if offset >= total {
		return page, nil
	}
	limit := total - offset
	if opts.Limit > 0 && uint64(opts.Limit) < limit {
		limit = uint64(opts.Limit)
	}

	var start, end uint64
	if opts.Reverse {
		end = total - offset
		start = end - limit
	} else {
		start = offset
		end = offset + limit
	}

	entries, err := l.backend.Range(ctx, start, end)
	if err != nil {
		return Page{}, err
	}
	if opts.Reverse {
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
	}
	page.Entries = entries
	return page, nil
}

// FindByHashPrefix returns all entries whose hash starts with prefix.
func (l *Ledger) FindByHashPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	prefix = strings.ToLower(prefix)
	all, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var matches []Entry
	for _, e := range all {
		if strings.HasPrefix(e.Hash, prefix) {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// Ping checks the backend.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.backend.Ping(ctx)
}

// Close releases the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

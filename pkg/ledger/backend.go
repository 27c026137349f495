package ledger

import (
	"context"
	"sync"
)

// Backend persists ledger entries in insertion order.
//
// Append must be conditional: it stores the entry only if the current tail hash
// equals expectedPrev (GenesisHash for an empty ledger), otherwise it returns
// ErrTailMoved. Backends never rewrite or delete entries.
type Backend interface {
	// Tail returns the last entry, or ok=false when the ledger is empty.
	Tail(ctx context.Context) (entry Entry, ok bool, err error)

	// Append stores entry after checking the tail hash.
	Append(ctx context.Context, entry Entry, expectedPrev string) error

	// Range returns entries with start <= sequence < end in ascending order.
	Range(ctx context.Context, start, end uint64) ([]Entry, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (uint64, error)

	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error

	Close() error
}

// MemoryBackend keeps the ledger in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Tail(ctx context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return m.entries[len(m.entries)-1].Clone(), true, nil
}

func (m *MemoryBackend) Append(ctx context.Context, entry Entry, expectedPrev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tail := GenesisHash
	if n := len(m.entries); n > 0 {
		tail = m.entries[n-1].Hash
	}
	if tail != expectedPrev {
		return ErrTailMoved
	}
	m.entries = append(m.entries, entry.Clone())
	return nil
}

func (m *MemoryBackend) Range(ctx context.Context, start, end uint64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := uint64(len(m.entries))
	if end > n {
		end = n
	}
	if start >= end {
		return []Entry{}, nil
	}
	out := make([]Entry, 0, end-start)
	for _, e := range m.entries[start:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Len(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries)), nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

// Tamper overwrites the stored entry at seq without touching its hash. It exists
// so integrity failures can be exercised from other packages' tests.
func (m *MemoryBackend) Tamper(seq uint64, mutate func(*Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq < uint64(len(m.entries)) {
		mutate(&m.entries[seq])
	}
}

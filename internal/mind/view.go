package mind

import (
	"context"

	"github.com/dyluth/mirror/pkg/ledger"
)

// View is the read model served to clients: the snapshot plus the most recent
// ledger entries it already reflects.
type View struct {
	*Snapshot
	Ledger []ledger.Entry `json:"ledger"`
}

// View returns the current snapshot with up to tail ledger entries. Entries
// appended after the snapshot was published are left out so both halves agree.
func (s *Store) View(ctx context.Context, tail int) (View, error) {
	snap := s.Read()
	v := View{Snapshot: snap, Ledger: []ledger.Entry{}}
	if tail <= 0 || snap.Stats.Entries == 0 {
		return v, nil
	}

	end := snap.Stats.Entries
	start := uint64(0)
	if end > uint64(tail) {
		start = end - uint64(tail)
	}
	page, err := s.ledger.List(ctx, ledger.ListOptions{Offset: int(start), Limit: int(end - start)})
	if err != nil {
		return View{}, err
	}
	v.Ledger = page.Entries
	return v, nil
}

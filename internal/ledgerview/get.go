package ledgerview

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/mirror/internal/resolver"
)

// Get resolves ref (a sequence number or hash prefix) and writes the entry as
// pretty-printed JSON. Resolver errors are returned unwrapped so callers can
// use resolver.IsNotFoundError and resolver.IsAmbiguousError.
func Get(ctx context.Context, finder resolver.EntryFinder, ref string, w io.Writer) error {
	entry, err := resolver.ResolveEntry(ctx, finder, ref)
	if err != nil {
		return err
	}
	if err := FormatSingleJSON(w, entry); err != nil {
		return fmt.Errorf("failed to format entry: %w", err)
	}
	return nil
}

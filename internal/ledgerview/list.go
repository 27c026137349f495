package ledgerview

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/mirror/pkg/ledger"
)

// OutputFormat specifies how to format ledger listings.
type OutputFormat string

const (
	// OutputFormatDefault is a table with one summarised line per entry
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete entries as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"

	// OutputFormatJSON outputs complete entries as one JSON array
	OutputFormatJSON OutputFormat = "json"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL, OutputFormatJSON:
		return f, nil
	case "":
		return OutputFormatDefault, nil
	default:
		return "", fmt.Errorf("unknown output format: %s (valid formats: default, jsonl, json)", s)
	}
}

// Filter selects entries for listing. All set fields are ANDed together.
type Filter struct {
	Since    time.Time // zero = no lower bound
	Until    time.Time // zero = no upper bound
	TypeGlob string    // glob over the entry type, case-insensitive
	Kind     string    // SYSTEM_UPDATE kind, exact match
	RunID    string    // run id prefix on SYSTEM_UPDATE entries
}

// Matches reports whether e passes every filter.
func (f *Filter) Matches(e ledger.Entry) bool {
	if f == nil {
		return true
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}

	if f.TypeGlob != "" {
		matched, err := filepath.Match(strings.ToUpper(f.TypeGlob), string(e.Type))
		if err != nil || !matched {
			return false
		}
	}

	if f.Kind == "" && f.RunID == "" {
		return true
	}
	if e.Type != ledger.EntryTypeSystemUpdate {
		return false
	}
	p, err := e.Decode()
	if err != nil {
		return false
	}
	su := p.(*ledger.SystemUpdatePayload)
	if f.Kind != "" && string(su.Kind) != f.Kind {
		return false
	}
	if f.RunID != "" && !strings.HasPrefix(su.RunID, f.RunID) {
		return false
	}
	return true
}

// EntrySource supplies the full ledger.
type EntrySource interface {
	Entries(ctx context.Context) ([]ledger.Entry, error)
}

// ListOptions controls List.
type ListOptions struct {
	Format OutputFormat
	Filter *Filter
	Limit  int // keep only the newest Limit matches; zero keeps all
	Now    time.Time
}

// List writes the entries of src that pass the filter, oldest first.
func List(ctx context.Context, src EntrySource, instanceName string, opts ListOptions, w io.Writer) error {
	all, err := src.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	entries := make([]ledger.Entry, 0, len(all))
	for _, e := range all {
		if opts.Filter.Matches(e) {
			entries = append(entries, e)
		}
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[len(entries)-opts.Limit:]
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	switch opts.Format {
	case OutputFormatDefault, "":
		FormatTable(w, entries, instanceName, now)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, entries); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	case OutputFormatJSON:
		if err := FormatJSON(w, entries); err != nil {
			return fmt.Errorf("failed to format JSON output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", opts.Format)
	}
	return nil
}

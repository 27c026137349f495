// Package ledgerview renders ledger entries for the CLI.
package ledgerview

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/mirror/pkg/ledger"
)

// FormatTable writes entries as a table with the columns SEQ, HASH, TYPE, AGE
// and SUMMARY. Ages are relative to now. Returns the number of entries written.
func FormatTable(w io.Writer, entries []ledger.Entry, instanceName string, now time.Time) int {
	if len(entries) == 0 {
		fmt.Fprintf(w, "No ledger entries found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Ledger for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-6s %-10s %-9s %-8s %s\n", "SEQ", "HASH", "TYPE", "AGE", "SUMMARY")
	fmt.Fprintf(w, "%-6s %-10s %-9s %-8s %s\n",
		"------", "----------", "---------", "--------", "------------------------------------------------")

	for _, e := range entries {
		fmt.Fprintf(w, "%-6d %-10s %-9s %-8s %s\n",
			e.Sequence,
			formatHash(e.Hash),
			formatType(e.Type),
			formatAge(e.Timestamp, now),
			truncate(Summary(e), 48),
		)
	}

	noun := "entry"
	if len(entries) != 1 {
		noun = "entries"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(entries), noun)

	return len(entries)
}

// FormatJSONL writes one compact JSON entry per line, ready for jq.
func FormatJSONL(w io.Writer, entries []ledger.Entry) error {
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %d to JSON: %w", e.Sequence, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes entries as one pretty-printed JSON array.
func FormatJSON(w io.Writer, entries []ledger.Entry) error {
	if entries == nil {
		entries = []ledger.Entry{}
	}
	return writeIndented(w, entries)
}

// FormatSingleJSON writes a single entry as pretty-printed JSON.
func FormatSingleJSON(w io.Writer, entry ledger.Entry) error {
	return writeIndented(w, entry)
}

// FormatVerify writes a human-readable chain verification result.
func FormatVerify(w io.Writer, report ledger.VerifyReport) {
	if report.Valid {
		fmt.Fprintf(w, "Chain intact: %d entries verified\n", report.Entries)
		return
	}
	at := "unknown"
	if report.BrokenAt != nil {
		at = fmt.Sprintf("%d", *report.BrokenAt)
	}
	fmt.Fprintf(w, "Chain BROKEN at sequence %s of %d: %s\n", at, report.Entries, report.Reason)
}

func writeIndented(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// Summary describes an entry's payload in one line.
func Summary(e ledger.Entry) string {
	p, err := e.Decode()
	if err != nil {
		return "(undecodable payload)"
	}

	switch p := p.(type) {
	case *ledger.IngestPayload:
		title := firstLine(p.Title)
		if title == "" {
			title = p.URL
		}
		if p.Feed != "" {
			return fmt.Sprintf("%s [%s]", title, p.Feed)
		}
		return title

	case *ledger.ForecastOpenPayload:
		return fmt.Sprintf("%s: %s (p=%.2f)", p.ForecastID, firstLine(p.Question), p.Probability)

	case *ledger.ForecastResolvePayload:
		outcome := "no"
		if p.Outcome {
			outcome = "yes"
		}
		return fmt.Sprintf("%s resolved %s (brier %.4f)", p.ForecastID, outcome, p.BrierScore)

	case *ledger.SystemUpdatePayload:
		return systemSummary(p)
	}
	return "-"
}

func systemSummary(p *ledger.SystemUpdatePayload) string {
	switch p.Kind {
	case ledger.KindPhaseFailed:
		return fmt.Sprintf("phase_failed %s: %s", p.Phase, firstLine(p.Message))
	case ledger.KindProbabilityUpdate:
		if p.Probability != nil {
			return fmt.Sprintf("probability_update %s -> %.2f", p.ForecastID, *p.Probability)
		}
	case ledger.KindDeliberationRecorded:
		failed := 0
		for _, a := range p.Agents {
			if a.Error != "" {
				failed++
			}
		}
		return fmt.Sprintf("deliberation_recorded %d agents, %d failed", len(p.Agents), failed)
	case ledger.KindMindUpdate:
		if p.Mind != nil {
			return fmt.Sprintf("mind_update %d beliefs, %d risks, %d deltas",
				len(p.Mind.Beliefs), len(p.Mind.Risks), len(p.Mind.Deltas))
		}
	case ledger.KindRunCompleted:
		if p.Message != "" {
			return "run_completed " + firstLine(p.Message)
		}
	}
	if p.RunID != "" {
		return fmt.Sprintf("%s run=%s", p.Kind, formatHash(p.RunID))
	}
	return string(p.Kind)
}

// formatHash shortens a hash to its first 8 characters.
func formatHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// formatType shortens entry types to fit the table.
func formatType(t ledger.EntryType) string {
	switch t {
	case ledger.EntryTypeIngest:
		return "INGEST"
	case ledger.EntryTypeForecastOpen:
		return "FC_OPEN"
	case ledger.EntryTypeForecastResolve:
		return "FC_RESOLV"
	case ledger.EntryTypeSystemUpdate:
		return "SYSTEM"
	}
	return truncate(string(t), 9)
}

// formatAge renders ts relative to now, like "2m ago".
func formatAge(ts, now time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	diff := now.Sub(ts)
	switch {
	case diff < 0:
		return "future"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

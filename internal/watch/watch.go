// Package watch follows a Mirror server's live event stream from the CLI.
package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dyluth/mirror/internal/live"
	"github.com/fatih/color"
)

// OutputFormat specifies how events are written.
type OutputFormat string

const (
	// OutputFormatDefault is one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is one JSON object per line
	OutputFormatJSON OutputFormat = "json"
)

// Options controls Stream.
type Options struct {
	Format     OutputFormat
	Heartbeats bool // heartbeats are hidden unless set
}

// Stream connects to the SSE endpoint at url and writes each event to w until
// ctx is cancelled or the server closes the stream.
func Stream(ctx context.Context, client *http.Client, url string, opts Options, w io.Writer) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from %s: %s", url, resp.Status)
	}

	err = ReadEvents(resp.Body, func(ev live.Event) error {
		if ev.Type == live.EventHeartbeat && !opts.Heartbeats {
			return nil
		}
		return WriteEvent(w, ev, opts.Format)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ReadEvents parses server-sent-event frames from r and calls fn for each.
// It returns nil at end of stream.
func ReadEvents(r io.Reader, fn func(live.Event) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var name string
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				name = ""
				continue
			}
			var ev live.Event
			if err := json.Unmarshal([]byte(data.String()), &ev); err != nil {
				return fmt.Errorf("failed to decode %s event: %w", name, err)
			}
			if ev.Type == "" {
				ev.Type = live.EventType(name)
			}
			if err := fn(ev); err != nil {
				return err
			}
			name = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}

// WriteEvent writes ev in the requested format.
func WriteEvent(w io.Writer, ev live.Event, format OutputFormat) error {
	switch format {
	case OutputFormatJSON:
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	case OutputFormatDefault, "":
		_, err := fmt.Fprintln(w, FormatEvent(ev))
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

var (
	good    = color.New(color.FgGreen)
	bad     = color.New(color.FgRed, color.Bold)
	notice  = color.New(color.FgYellow)
	neutral = color.New(color.FgCyan)
	dim     = color.New(color.Faint)
)

// FormatEvent renders ev as one line: time, icon, type and details.
func FormatEvent(ev live.Event) string {
	ts := "--:--:--"
	if !ev.Timestamp.IsZero() {
		ts = ev.Timestamp.Local().Format(time.TimeOnly)
	}

	icon, c := "•", neutral
	switch ev.Type {
	case live.EventConnected:
		icon, c = "🔌", neutral
	case live.EventHeartbeat:
		icon, c = "♥", dim
	case live.EventPhaseChange:
		icon, c = "→", neutral
	case live.EventIngestComplete, live.EventAgentComplete:
		icon, c = "✓", good
	case live.EventPipelineComplete:
		icon, c = "✅", good
	case live.EventAgentFailed, live.EventRunRejected:
		icon, c = "⚠️", notice
	case live.EventPhaseFailed:
		icon, c = "❌", bad
	case live.EventLedgerAppend:
		icon, c = "📜", dim
	}

	var parts []string
	if ev.Phase != "" {
		parts = append(parts, "phase="+ev.Phase)
	}
	if ev.Agent != "" {
		parts = append(parts, "agent="+ev.Agent)
	}
	if ev.RunID != "" {
		parts = append(parts, "run="+shortID(ev.RunID))
	}
	if ev.Type == live.EventLedgerAppend {
		if seq, ok := ev.Data["sequence"]; ok {
			parts = append(parts, fmt.Sprintf("seq=%v", seq))
		}
		if typ, ok := ev.Data["type"]; ok {
			parts = append(parts, fmt.Sprintf("type=%v", typ))
		}
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}

	return fmt.Sprintf("[%s] %s %s %s", ts, icon, c.Sprint(string(ev.Type)), strings.Join(parts, " "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

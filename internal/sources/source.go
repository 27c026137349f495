// Package sources provides the documents fed into the ingest phase.
package sources

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dyluth/mirror/pkg/ledger"
)

// MaxExcerpt is the longest excerpt kept per document, in runes.
const MaxExcerpt = 500

// Document is one piece of source material.
type Document struct {
	Title       string
	URL         string
	Excerpt     string
	Feed        string
	Tier        int
	PublishedAt time.Time
}

// Source produces documents for a run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Document, error)
}

// Payload converts the document into its ledger form. Documents without a URL
// are keyed by title.
func (d Document) Payload() *ledger.IngestPayload {
	key := d.URL
	if key == "" {
		key = d.Title
	}
	p := &ledger.IngestPayload{
		SourceID: ledger.SourceID(key),
		Title:    strings.TrimSpace(d.Title),
		URL:      d.URL,
		Excerpt:  Truncate(strings.TrimSpace(d.Excerpt), MaxExcerpt),
		Feed:     d.Feed,
		Tier:     d.Tier,
	}
	if !d.PublishedAt.IsZero() {
		p.PublishedAt = d.PublishedAt.UTC().Format(time.RFC3339)
	}
	return p
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Static serves a fixed set of documents, typically from configuration.
type Static struct {
	name string
	docs []Document
}

// NewStatic creates a source that always returns docs.
func NewStatic(name string, docs []Document) *Static {
	return &Static{name: name, docs: docs}
}

func (s *Static) Name() string { return s.name }

func (s *Static) Fetch(ctx context.Context) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	for i := range out {
		if out[i].Feed == "" {
			out[i].Feed = s.name
		}
	}
	return out, nil
}

package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/mirror/internal/breaker"
	"golang.org/x/time/rate"
)

// DefaultMaxItems is how many items are taken from each feed per fetch.
const DefaultMaxItems = 10

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 4 << 20

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// HostLimiter rate limits requests per host.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewHostLimiter creates a limiter allowing rps requests per second per host.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	return &HostLimiter{limiters: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

// Wait blocks until a request to host is allowed or ctx is done.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.rps), l.burst)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// RSS fetches an RSS 2.0 feed.
type RSS struct {
	name     string
	feedURL  string
	tier     int
	maxItems int
	client   *http.Client
	limiter  *HostLimiter
	breaker  *breaker.Breaker
}

// NewRSS creates a feed source. A nil client uses a 15s timeout client; a nil
// limiter disables rate limiting.
func NewRSS(name, feedURL string, tier int, client *http.Client, limiter *HostLimiter) (*RSS, error) {
	if _, err := url.ParseRequestURI(feedURL); err != nil {
		return nil, fmt.Errorf("invalid feed url %q: %w", feedURL, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RSS{
		name:     name,
		feedURL:  feedURL,
		tier:     tier,
		maxItems: DefaultMaxItems,
		client:   client,
		limiter:  limiter,
		breaker:  breaker.New("feed:"+name, 5*time.Minute),
	}, nil
}

func (r *RSS) Name() string { return r.name }

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Fetch downloads and parses the feed. Repeated failures open the breaker and
// further fetches fail fast until it cools down.
func (r *RSS) Fetch(ctx context.Context) ([]Document, error) {
	v, err := r.breaker.Execute(func() (any, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", r.name, err)
	}
	return v.([]Document), nil
}

func (r *RSS) fetch(ctx context.Context) ([]Document, error) {
	if r.limiter != nil {
		u, _ := url.Parse(r.feedURL)
		if err := r.limiter.Wait(ctx, u.Host); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "mirror/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	return ParseRSS(io.LimitReader(resp.Body, maxFeedBytes), r.name, r.tier, r.maxItems)
}

// ParseRSS reads up to maxItems items from an RSS 2.0 document.
func ParseRSS(rd io.Reader, feed string, tier, maxItems int) ([]Document, error) {
	var doc rssDocument
	if err := xml.NewDecoder(rd).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	items := doc.Channel.Items
	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	docs := make([]Document, 0, len(items))
	for _, it := range items {
		d := Document{
			Title:   strings.TrimSpace(it.Title),
			URL:     strings.TrimSpace(it.Link),
			Excerpt: Truncate(cleanText(it.Description), MaxExcerpt),
			Feed:    feed,
			Tier:    tier,
		}
		if t, err := time.Parse(time.RFC1123Z, strings.TrimSpace(it.PubDate)); err == nil {
			d.PublishedAt = t
		} else if t, err := time.Parse(time.RFC1123, strings.TrimSpace(it.PubDate)); err == nil {
			d.PublishedAt = t
		}
		if d.Title == "" && d.URL == "" {
			continue
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

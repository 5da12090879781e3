// Package extraction fetches candidate articles and turns them into draft
// deal records.
//
// Two extractors are provided. RuleExtractor applies date, party, money and
// asset patterns to the article text and needs no external service.
// AnthropicExtractor asks a model for the same fields as JSON. Both share
// the rate-limited HTTPFetcher.
//
// Failure signalling follows the retry package: HTTP statuses come back as
// *retry.StatusError, and failures that retrying cannot fix (bad API key)
// are wrapped with retry.Fatal.
package extraction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/steveyegge/dealfinder/internal/retry"
)

// Page is a fetched article reduced to text.
type Page struct {
	URL   string
	Title string
	Text  string

	// PublishedAt comes from article metadata when the page declares it
	PublishedAt *time.Time
}

// Fetcher retrieves article pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher fetches pages over HTTP with a per-domain rate limit.
type HTTPFetcher struct {
	cfg    FetcherConfig
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher. A nil client gets one with cfg.Timeout.
func NewHTTPFetcher(cfg FetcherConfig, client *http.Client, logger *zap.Logger) (*HTTPFetcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetcher config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		cfg:      cfg,
		client:   client,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// limiter returns the token bucket for host, creating it on first use.
func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(f.cfg.RequestsPerMinute)), 1)
		f.limiters[host] = l
	}
	return l
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &retry.StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	page, err := ParseHTML(rawURL, io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("fetched article",
		zap.String("url", rawURL),
		zap.Int("text_len", len(page.Text)))
	return page, nil
}

// publishedMeta lists meta tags that carry an article's publication time.
var publishedMeta = []string{
	`meta[property="article:published_time"]`,
	`meta[name="article:published_time"]`,
	`meta[name="pubdate"]`,
	`meta[name="date"]`,
	`meta[itemprop="datePublished"]`,
}

// ParseHTML reduces an HTML document to its title and readable text.
func ParseHTML(pageURL string, r io.Reader) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", pageURL, err)
	}

	page := &Page{URL: pageURL}
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		page.Title = strings.TrimSpace(og)
	}
	if page.Title == "" {
		page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	for _, sel := range publishedMeta {
		content, ok := doc.Find(sel).First().Attr("content")
		if !ok {
			continue
		}
		if t, ok := parseMetaTime(content); ok {
			page.PublishedAt = &t
			break
		}
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, form").Remove()
	body := doc.Find("article").First()
	if body.Length() == 0 || strings.TrimSpace(body.Text()) == "" {
		body = doc.Find("body")
	}

	var paragraphs []string
	body.Find("h1, h2, h3, p, li").Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		paragraphs = append(paragraphs, collapseSpace(body.Text()))
	}
	page.Text = strings.Join(paragraphs, "\n")
	return page, nil
}

func parseMetaTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

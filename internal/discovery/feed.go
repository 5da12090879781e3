package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/types"
)

// Source is a named candidate producer.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]types.Candidate, error)
}

// FeedSource reads one RSS or Atom feed.
type FeedSource struct {
	feed     FeedConfig
	keywords []string
	parser   *gofeed.Parser
}

// NewFeedSource creates a feed source. A nil client means http.DefaultClient.
func NewFeedSource(feed FeedConfig, keywords []string, client *http.Client, userAgent string) *FeedSource {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	return &FeedSource{feed: feed, keywords: kw, parser: parser}
}

// Name implements Source.
func (s *FeedSource) Name() string { return s.feed.Name }

// Discover implements Source. HTTP failures are returned as
// *retry.StatusError so callers can tell throttling from a dead feed.
func (s *FeedSource) Discover(ctx context.Context) ([]types.Candidate, error) {
	parsed, err := s.parser.ParseURLWithContext(s.feed.URL, ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) {
			return nil, &retry.StatusError{URL: s.feed.URL, Code: httpErr.StatusCode}
		}
		return nil, fmt.Errorf("failed to read feed %s: %w", s.feed.Name, err)
	}
	return s.candidates(parsed), nil
}

func (s *FeedSource) candidates(parsed *gofeed.Feed) []types.Candidate {
	out := make([]types.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		link := itemLink(item)
		if link == "" || !s.matches(item) {
			continue
		}
		c := types.Candidate{URL: link, Source: s.feed.Name}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			c.PublishedAt = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			c.PublishedAt = &t
		}
		out = append(out, c)
	}
	return out
}

func (s *FeedSource) matches(item *gofeed.Item) bool {
	if len(s.keywords) == 0 {
		return true
	}
	text := strings.ToLower(item.Title + " " + item.Description)
	for _, k := range s.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// itemLink prefers the explicit link, falling back to a URL-shaped GUID.
func itemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if strings.HasPrefix(item.GUID, "http") {
		return item.GUID
	}
	return ""
}

package discovery

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FeedConfig is one RSS or Atom feed.
type FeedConfig struct {
	// Name is recorded as the candidate source (e.g. "PR Newswire")
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Config holds discovery configuration.
type Config struct {
	// Feeds to poll every cycle
	Feeds []FeedConfig `yaml:"feeds"`

	// Keywords filter feed items by title and summary, case-insensitive.
	// Empty keeps every item.
	Keywords []string `yaml:"keywords"`

	// SeedFile lists extra URLs, one per line, optionally prefixed with a
	// source name and a tab
	SeedFile string `yaml:"seed_file"`

	// Timeout bounds a single feed request
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// UserAgent sent with feed requests
	UserAgent string `yaml:"user_agent"`
}

// DefaultFeeds are the newswire and trade press feeds polled by default.
var DefaultFeeds = []FeedConfig{
	{Name: "PR Newswire", URL: "https://www.prnewswire.com/rss/health-latest-news/health-latest-news-list.rss"},
	{Name: "GlobeNewswire", URL: "https://www.globenewswire.com/RssFeed/industry/4573-Biotechnology/feedTitle/GlobeNewswire%20-%20Industry%20News%20on%20Biotechnology"},
	{Name: "Business Wire", URL: "https://feed.businesswire.com/rss/home/?rss=G1QFDERJXkJeGVtRXw=="},
	{Name: "FierceBiotech", URL: "https://www.fiercebiotech.com/rss/xml"},
	{Name: "Endpoints News", URL: "https://endpts.com/feed/"},
}

// DefaultKeywords are deal vocabulary terms.
var DefaultKeywords = []string{
	"acquire", "acquisition", "merger", "license", "licensing",
	"collaboration", "partnership", "option", "agreement",
}

// DefaultConfig returns the default discovery configuration
func DefaultConfig() Config {
	return Config{
		Feeds:     append([]FeedConfig(nil), DefaultFeeds...),
		Keywords:  append([]string(nil), DefaultKeywords...),
		Timeout:   30 * time.Second,
		UserAgent: "dealfinder/1.0 (+https://github.com/steveyegge/dealfinder)",
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if len(c.Feeds) == 0 && c.SeedFile == "" {
		return fmt.Errorf("at least one feed or a seed_file is required")
	}
	seen := make(map[string]bool)
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("feeds[%d]: name is required", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("feeds[%d]: duplicate name %q", i, f.Name)
		}
		seen[f.Name] = true
		u, err := url.Parse(f.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("feeds[%d]: invalid url %q", i, f.URL)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	return nil
}

package extraction

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/types"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Wire | Pfizer to Acquire Arena</title>
  <meta property="og:title" content="Pfizer to Acquire Arena Pharmaceuticals">
  <meta property="article:published_time" content="2021-12-13T11:45:00Z">
  <script>var tracking = "Acquire everything";</script>
</head>
<body>
  <nav><ul><li>Home</li><li>News</li></ul></nav>
  <article>
    <h1>Pfizer to Acquire Arena Pharmaceuticals</h1>
    <p>NEW YORK, December 13, 2021 --   Pfizer will acquire Arena,
       a clinical stage company developing Etrasimod.</p>
    <p>The total equity value is approximately $6.7 billion.</p>
  </article>
  <footer><p>Contact us</p></footer>
</body>
</html>`

func testFetcherConfig() FetcherConfig {
	cfg := DefaultFetcherConfig()
	cfg.RequestsPerMinute = 600
	return cfg
}

func TestParseHTML(t *testing.T) {
	page, err := ParseHTML("https://wire.example/a", strings.NewReader(articleHTML))
	require.NoError(t, err)

	assert.Equal(t, "Pfizer to Acquire Arena Pharmaceuticals", page.Title)
	require.NotNil(t, page.PublishedAt)
	assert.Equal(t, time.Date(2021, 12, 13, 11, 45, 0, 0, time.UTC), *page.PublishedAt)

	assert.Contains(t, page.Text, "NEW YORK, December 13, 2021 -- Pfizer will acquire Arena, a clinical stage company developing Etrasimod.")
	assert.Contains(t, page.Text, "$6.7 billion")
	assert.NotContains(t, page.Text, "tracking")
	assert.NotContains(t, page.Text, "Home")
	assert.NotContains(t, page.Text, "Contact us")
}

func TestParseHTMLWithoutArticle(t *testing.T) {
	page, err := ParseHTML("https://wire.example/b", strings.NewReader(
		`<html><head><title>Plain</title></head><body><div>Just   some text</div></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Plain", page.Title)
	assert.Nil(t, page.PublishedAt)
	assert.Equal(t, "Just some text", page.Text)
}

func TestHTTPFetcherFetch(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(testFetcherConfig(), srv.Client(), nil)
	require.NoError(t, err)

	page, err := f.Fetch(context.Background(), srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, "Pfizer to Acquire Arena Pharmaceuticals", page.Title)
	assert.Equal(t, DefaultFetcherConfig().UserAgent, gotUA)
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(testFetcherConfig(), srv.Client(), nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, retry.IsRetriable(err))
}

func TestHTTPFetcherRejectsInvalidURL(t *testing.T) {
	f, err := NewHTTPFetcher(testFetcherConfig(), nil, nil)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestHTTPFetcherLimiterPerHost(t *testing.T) {
	f, err := NewHTTPFetcher(testFetcherConfig(), nil, nil)
	require.NoError(t, err)

	a := f.limiter("a.example")
	assert.Same(t, a, f.limiter("a.example"))
	assert.NotSame(t, a, f.limiter("b.example"))
}

func TestFetcherConfigValidate(t *testing.T) {
	require.NoError(t, DefaultFetcherConfig().Validate())

	cfg := DefaultFetcherConfig()
	cfg.RequestsPerMinute = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultFetcherConfig()
	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}

func TestRuleExtractorUsesFetcher(t *testing.T) {
	fetcher := pageFetcher{page: &Page{
		Title: "Pfizer to Acquire Arena Pharmaceuticals",
		Text:  "December 13, 2021. Pfizer will acquire Arena for approximately $6.7 billion.",
	}}
	d, err := NewRuleExtractor(fetcher).Extract(context.Background(), types.Candidate{URL: "https://wire.example/a"})
	require.NoError(t, err)
	assert.Equal(t, "Pfizer", d.Acquirer)

	_, err = NewRuleExtractor(pageFetcher{err: &retry.StatusError{Code: 503}}).
		Extract(context.Background(), types.Candidate{URL: "https://wire.example/a"})
	assert.True(t, retry.IsRetriable(err))
}

// pageFetcher returns a fixed page or error.
type pageFetcher struct {
	page *Page
	err  error
}

func (f pageFetcher) Fetch(_ context.Context, url string) (*Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := *f.page
	p.URL = url
	return &p, nil
}

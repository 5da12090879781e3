package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/types"
)

// messagesServer answers every Messages call with status and the given
// assistant text.
func messagesServer(t *testing.T, status int, text string, prompts *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if prompts != nil {
			*prompts = append(*prompts, string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"boom"}}`))
			return
		}
		resp := map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         ModelDefault,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": text}},
			"usage":         map[string]any{"input_tokens": 100, "output_tokens": 50},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAnthropicExtractor(t *testing.T, srv *httptest.Server) *AnthropicExtractor {
	t.Helper()
	cfg := DefaultAnthropicConfig()
	cfg.APIKey = "test-key"
	cfg.TherapeuticArea = "immunology"
	fetcher := pageFetcher{page: &Page{
		Title: "Pfizer to Acquire Arena Pharmaceuticals",
		Text:  "Pfizer will acquire Arena for approximately $6.7 billion.",
	}}
	e, err := NewAnthropicExtractor(cfg, fetcher, nil, option.WithBaseURL(srv.URL))
	require.NoError(t, err)
	return e
}

func TestAnthropicExtractorParsesDeal(t *testing.T) {
	reply := "Here is the extraction:\n```json\n" + `{
  "is_deal": true,
  "acquirer": "Pfizer",
  "target": "Arena Pharmaceuticals",
  "asset": "etrasimod",
  "date_announced": "2021-12-13",
  "deal_type": "M&A",
  "stage": "phase 3",
  "upfront_usd_millions": null,
  "milestones_usd_millions": null,
  "total_usd_millions": 6700,
  "confidence": "high",
  "key_evidence": "Pfizer will acquire Arena",
  "uncertain_fields": ["stage"],
}` + "\n```"
	var prompts []string
	srv := messagesServer(t, http.StatusOK, reply, &prompts)
	e := testAnthropicExtractor(t, srv)

	d, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/a", Source: "Business Wire"})
	require.NoError(t, err)

	assert.False(t, d.NoDeal)
	assert.Equal(t, "Pfizer", d.Acquirer)
	assert.Equal(t, "Arena Pharmaceuticals", d.Target)
	assert.Equal(t, "etrasimod", d.Asset)
	assert.Equal(t, "Business Wire", d.Source)
	require.NotNil(t, d.Date)
	assert.Equal(t, "2021-12-13", d.Date.Format(types.DateLayout))
	require.NotNil(t, d.Money.TotalUSD)
	assert.InDelta(t, 6700, *d.Money.TotalUSD, 0.001)
	assert.Equal(t, "USD", d.Money.Currency)
	assert.Equal(t, "M&A", d.Hints["deal_type"])
	assert.Equal(t, "phase 3", d.Hints["stage"])
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
	assert.True(t, d.NeedsReview)
	assert.Contains(t, d.ReviewReasons, "extractor unsure of stage")

	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "immunology")
	assert.Contains(t, prompts[0], "https://wire.example/a")
}

func TestAnthropicExtractorNoDeal(t *testing.T) {
	srv := messagesServer(t, http.StatusOK, `{"is_deal": false, "reason": "earnings report"}`, nil)
	e := testAnthropicExtractor(t, srv)

	d, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/q3"})
	require.NoError(t, err)
	assert.True(t, d.NoDeal)
	assert.Equal(t, "earnings report", d.Reason)
}

func TestAnthropicExtractorDateFallback(t *testing.T) {
	srv := messagesServer(t, http.StatusOK,
		`{"is_deal": true, "acquirer": "A", "target": "B", "date_announced": "unknown", "confidence": "low"}`, nil)
	e := testAnthropicExtractor(t, srv)

	published := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	d, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/ab", PublishedAt: &published})
	require.NoError(t, err)
	require.NotNil(t, d.Date)
	assert.True(t, d.Date.Equal(published))
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)
	assert.Contains(t, d.ReviewReasons, "announcement date taken from publication time")
	assert.Contains(t, d.ReviewReasons, "low extraction confidence")
}

func TestAnthropicExtractorUnparseableReply(t *testing.T) {
	srv := messagesServer(t, http.StatusOK, "I could not find a deal here.", nil)
	e := testAnthropicExtractor(t, srv)

	_, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/x"})
	require.Error(t, err)
	assert.False(t, retry.IsFatal(err))
}

func TestAnthropicExtractorErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		fatal     bool
		retriable bool
	}{
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"rate limited", http.StatusTooManyRequests, false, true},
		{"overloaded", 529, false, true},
		{"bad request", http.StatusBadRequest, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := messagesServer(t, tt.status, "", nil)
			e := testAnthropicExtractor(t, srv)

			_, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/x"})
			require.Error(t, err)
			assert.Equal(t, tt.fatal, retry.IsFatal(err))
			var se *retry.StatusError
			assert.Equal(t, tt.retriable, errors.As(err, &se))
		})
	}
}

func TestAnthropicExtractorCapsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"m","stop_reason":"end_turn",` +
			`"content":[{"type":"text","text":"{\"is_deal\":false}"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	cfg := DefaultAnthropicConfig()
	cfg.APIKey = "test-key"
	cfg.MaxConcurrentCalls = 2
	e, err := NewAnthropicExtractor(cfg, pageFetcher{page: &Page{Title: "t", Text: "x"}}, nil, option.WithBaseURL(srv.URL))
	require.NoError(t, err)

	done := make(chan error, 6)
	for i := 0; i < 6; i++ {
		go func() {
			_, err := e.Extract(context.Background(), types.Candidate{URL: "https://wire.example/c"})
			done <- err
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, <-done)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestParseModelJSON(t *testing.T) {
	type v struct {
		A int `json:"a"`
	}
	for _, in := range []string{
		`{"a": 1}`,
		"```json\n{\"a\": 1}\n```",
		`{"a": 1,}`,
		"Sure! {\"a\": 1} Hope that helps.",
	} {
		got, err := parseModelJSON[v](in)
		require.NoError(t, err, in)
		assert.Equal(t, 1, got.A, in)
	}

	_, err := parseModelJSON[v]("   ")
	assert.ErrorIs(t, err, errNoJSON)
	_, err = parseModelJSON[v]("no json")
	assert.ErrorIs(t, err, errNoJSON)
}

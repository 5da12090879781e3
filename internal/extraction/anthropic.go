package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/types"
)

// AnthropicExtractor asks a model for the deal fields of an article.
type AnthropicExtractor struct {
	cfg     AnthropicConfig
	client  anthropic.Client
	fetcher Fetcher
	sem     *semaphore.Weighted
	logger  *zap.Logger
}

// NewAnthropicExtractor creates an LLM extractor. Extra request options are
// passed to the SDK client (base URL, HTTP client).
func NewAnthropicExtractor(cfg AnthropicConfig, fetcher Fetcher, logger *zap.Logger, opts ...option.RequestOption) (*AnthropicExtractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid anthropic config: %w", err)
	}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Retries are owned by the controller's retrier
	clientOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &AnthropicExtractor{
		cfg:     cfg,
		client:  anthropic.NewClient(clientOpts...),
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		logger:  logger,
	}, nil
}

// modelDeal is the JSON shape the prompt asks for.
type modelDeal struct {
	IsDeal          bool     `json:"is_deal"`
	Reason          string   `json:"reason"`
	Acquirer        string   `json:"acquirer"`
	Target          string   `json:"target"`
	Asset           string   `json:"asset"`
	DateAnnounced   string   `json:"date_announced"`
	DealType        string   `json:"deal_type"`
	Stage           string   `json:"stage"`
	Geography       string   `json:"geography"`
	UpfrontUSD      *float64 `json:"upfront_usd_millions"`
	MilestonesUSD   *float64 `json:"milestones_usd_millions"`
	TotalUSD        *float64 `json:"total_usd_millions"`
	Confidence      string   `json:"confidence"`
	KeyEvidence     string   `json:"key_evidence"`
	UncertainFields []string `json:"uncertain_fields"`
}

const promptTemplate = `You extract biopharma deal announcements from news articles.

Decide whether the article below announces a specific new deal (acquisition, merger,
licensing, option-to-license, partnership or collaboration) between two named companies.
%s
Respond with a single JSON object and nothing else:
{
  "is_deal": true or false,
  "reason": "one sentence, required when is_deal is false",
  "acquirer": "company acquiring, licensing in or leading the deal",
  "target": "company being acquired or licensing out",
  "asset": "drug, program or technology name, empty if undisclosed",
  "date_announced": "YYYY-MM-DD",
  "deal_type": "M&A, licensing, option-to-license or partnership",
  "stage": "development stage of the lead asset, e.g. preclinical, phase 1",
  "geography": "country or region of the target, if stated",
  "upfront_usd_millions": number or null,
  "milestones_usd_millions": number or null,
  "total_usd_millions": number or null,
  "confidence": "high, medium or low",
  "key_evidence": "short quote supporting the extraction",
  "uncertain_fields": ["names of fields you are unsure about"]
}

Title: %s
URL: %s

%s`

// Extract implements the controller's extractor contract.
func (e *AnthropicExtractor) Extract(ctx context.Context, c types.Candidate) (*types.Draft, error) {
	page, err := e.fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return nil, err
	}

	text := page.Text
	if len(text) > e.cfg.MaxArticleChars {
		text = text[:e.cfg.MaxArticleChars]
	}
	area := ""
	if e.cfg.TherapeuticArea != "" {
		area = fmt.Sprintf("Note whether the deal concerns %s.\n", e.cfg.TherapeuticArea)
	}
	prompt := fmt.Sprintf(promptTemplate, area, page.Title, c.URL, text)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.cfg.Model),
		MaxTokens: e.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	e.sem.Release(1)
	if err != nil {
		return nil, classifyAPIError(err)
	}

	var responseText string
	for _, block := range resp.Content {
		if block.Type == "text" {
			responseText += block.Text
		}
	}

	deal, err := parseModelJSON[modelDeal](responseText)
	if err != nil {
		return nil, fmt.Errorf("parsing model response for %s: %w", c.URL, err)
	}
	e.logger.Debug("model extraction",
		zap.String("url", c.URL),
		zap.Bool("is_deal", deal.IsDeal),
		zap.String("confidence", deal.Confidence))
	return toDraft(deal, page, c), nil
}

func toDraft(m modelDeal, page *Page, c types.Candidate) *types.Draft {
	d := &types.Draft{
		URL:    c.URL,
		Source: c.Source,
		Title:  page.Title,
		Text:   strings.TrimSpace(page.Text + "\n" + m.KeyEvidence),
	}
	if !m.IsDeal {
		d.NoDeal = true
		d.Reason = m.Reason
		return d
	}

	d.Acquirer = strings.TrimSpace(m.Acquirer)
	d.Target = strings.TrimSpace(m.Target)
	d.Asset = strings.TrimSpace(m.Asset)
	d.Geography = strings.TrimSpace(m.Geography)
	d.Money = types.Money{
		UpfrontUSD:    m.UpfrontUSD,
		ContingentUSD: m.MilestonesUSD,
		TotalUSD:      m.TotalUSD,
	}
	if d.Money.Completeness() > 0 {
		d.Money.Currency = "USD"
	}

	d.Hints = make(map[string]string)
	if m.DealType != "" {
		d.Hints["deal_type"] = m.DealType
	}
	if m.Stage != "" {
		d.Hints["stage"] = m.Stage
	}

	if t, err := time.Parse(types.DateLayout, strings.TrimSpace(m.DateAnnounced)); err == nil {
		d.Date = &t
	} else if page.PublishedAt != nil || c.PublishedAt != nil {
		t := c.PublishedAt
		if page.PublishedAt != nil {
			t = page.PublishedAt
		}
		date := *t
		d.Date = &date
		d.NeedsReview = true
		d.ReviewReasons = append(d.ReviewReasons, "announcement date taken from publication time")
	}

	switch strings.ToLower(m.Confidence) {
	case "high":
		d.Confidence = 0.9
	case "low":
		d.Confidence = 0.4
	default:
		d.Confidence = 0.7
	}
	if d.Confidence < 0.5 {
		d.NeedsReview = true
		d.ReviewReasons = append(d.ReviewReasons, "low extraction confidence")
	}
	for _, f := range m.UncertainFields {
		if f = strings.TrimSpace(f); f != "" {
			d.NeedsReview = true
			d.ReviewReasons = append(d.ReviewReasons, "extractor unsure of "+f)
		}
	}
	return d
}

// classifyAPIError maps SDK errors onto the retry package's taxonomy.
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic API call failed: %w", err)
	}
	switch code := apiErr.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return retry.Fatal(fmt.Errorf("anthropic API rejected credentials: %w", err))
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("anthropic API call failed: %w", &retry.StatusError{URL: "anthropic:messages", Code: code})
	default:
		return fmt.Errorf("anthropic API call failed: %w", err)
	}
}

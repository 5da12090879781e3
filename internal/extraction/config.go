package extraction

import (
	"fmt"
	"time"
)

// FetcherConfig holds configuration for article fetching
type FetcherConfig struct {
	// RequestsPerMinute is the per-domain request budget.
	// Default: 15
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Timeout bounds one HTTP request.
	// Default: 20s
	Timeout time.Duration `yaml:"timeout"`

	// MaxBodyBytes caps how much of a response is read.
	// Default: 5 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	UserAgent string `yaml:"user_agent"`
}

// DefaultFetcherConfig returns the default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		RequestsPerMinute: 15,
		Timeout:           20 * time.Second,
		MaxBodyBytes:      5 << 20,
		UserAgent:         "Mozilla/5.0 (compatible; dealfinder/1.0)",
	}
}

// Validate checks if the configuration has valid values
func (c FetcherConfig) Validate() error {
	if c.RequestsPerMinute < 1 || c.RequestsPerMinute > 600 {
		return fmt.Errorf("requests_per_minute must be between 1 and 600 (got %d)", c.RequestsPerMinute)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("max_body_bytes must be >= 1024 (got %d)", c.MaxBodyBytes)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c FetcherConfig) String() string {
	return fmt.Sprintf("FetcherConfig{RequestsPerMinute: %d, Timeout: %v, MaxBodyBytes: %d}",
		c.RequestsPerMinute, c.Timeout, c.MaxBodyBytes)
}

// ModelDefault is the model used for LLM extraction unless configured.
const ModelDefault = "claude-sonnet-4-5-20250929"

// AnthropicConfig holds configuration for LLM extraction
type AnthropicConfig struct {
	// APIKey falls back to ANTHROPIC_API_KEY. Without a key the rule-based
	// extractor is used.
	APIKey string `yaml:"-"`

	// Model is the Anthropic model name
	Model string `yaml:"model"`

	// MaxConcurrentCalls caps in-flight API calls across workers.
	// Default: 3
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// MaxTokens bounds the response size.
	// Default: 1024
	MaxTokens int64 `yaml:"max_tokens"`

	// MaxArticleChars truncates the article text sent to the model.
	// Default: 12000
	MaxArticleChars int `yaml:"max_article_chars"`

	// TherapeuticArea is named in the prompt
	TherapeuticArea string `yaml:"-"`
}

// DefaultAnthropicConfig returns the default LLM extraction configuration
func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:              ModelDefault,
		MaxConcurrentCalls: 3,
		MaxTokens:          1024,
		MaxArticleChars:    12000,
	}
}

// Validate checks if the configuration has valid values
func (c AnthropicConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxConcurrentCalls < 1 || c.MaxConcurrentCalls > 32 {
		return fmt.Errorf("max_concurrent_calls must be between 1 and 32 (got %d)", c.MaxConcurrentCalls)
	}
	if c.MaxTokens < 256 {
		return fmt.Errorf("max_tokens must be >= 256 (got %d)", c.MaxTokens)
	}
	if c.MaxArticleChars < 500 {
		return fmt.Errorf("max_article_chars must be >= 500 (got %d)", c.MaxArticleChars)
	}
	return nil
}

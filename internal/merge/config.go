package merge

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds configuration for the fuzzy merge resolver
type Config struct {
	// WindowDays is the largest announcement date difference, in days, at
	// which two same-party, same-asset records still denote one deal.
	// 0 = exact date match only (plain canonical key equality)
	// Larger values absorb more outlet date drift but risk merging repeat deals
	// Default: 3
	WindowDays int

	// PrimarySourceKeywords identify press-release (primary disclosure) sources
	// by substring of the source URL or source name, case-insensitive.
	// Default: newswire and corporate press domains
	PrimarySourceKeywords []string

	// Parallelism bounds how many (target, acquirer) buckets are merged
	// concurrently when folding a batch.
	// Default: 4
	Parallelism int
}

// DefaultPrimarySourceKeywords marks wire services and corporate newsrooms.
var DefaultPrimarySourceKeywords = []string{
	"prnewswire", "businesswire", "globenewswire", "newsroom",
	"press-release", "pressrelease", "/press/", "investor relations",
	"investors.", "/investors/", "news-releases",
}

// DefaultConfig returns the default merge configuration
func DefaultConfig() Config {
	return Config{
		WindowDays:            3,
		PrimarySourceKeywords: append([]string(nil), DefaultPrimarySourceKeywords...),
		Parallelism:           4,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.WindowDays < 0 {
		return fmt.Errorf("window_days cannot be negative (got %d)", c.WindowDays)
	}
	if c.WindowDays > 30 {
		return fmt.Errorf("window_days too large (got %d, max 30)", c.WindowDays)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive (got %d)", c.Parallelism)
	}
	if c.Parallelism > 64 {
		return fmt.Errorf("parallelism too large (got %d, max 64)", c.Parallelism)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("Config{WindowDays: %d, PrimaryKeywords: %d, Parallelism: %d}",
		c.WindowDays, len(c.PrimarySourceKeywords), c.Parallelism)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - DEALFINDER_MERGE_WINDOW_DAYS: Date window in days (default: 3)
//   - DEALFINDER_MERGE_PARALLELISM: Concurrent buckets per batch (default: 4)
//   - DEALFINDER_MERGE_PRIMARY_SOURCES: Comma-separated primary source keywords
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any DEALFINDER_MERGE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if err := parseEnvInt("DEALFINDER_MERGE_WINDOW_DAYS", &cfg.WindowDays); err != nil {
		return err
	}
	if err := parseEnvInt("DEALFINDER_MERGE_PARALLELISM", &cfg.Parallelism); err != nil {
		return err
	}
	if v := os.Getenv("DEALFINDER_MERGE_PRIMARY_SOURCES"); v != "" {
		var kws []string
		for _, kw := range strings.Split(v, ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		cfg.PrimarySourceKeywords = kws
	}
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

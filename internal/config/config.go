// Package config loads dealfinder configuration: a YAML file, then .env
// files, then DEALFINDER_* environment overrides, then validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/dealfinder/internal/canonical"
	"github.com/steveyegge/dealfinder/internal/convergence"
	"github.com/steveyegge/dealfinder/internal/discovery"
	"github.com/steveyegge/dealfinder/internal/extraction"
	"github.com/steveyegge/dealfinder/internal/logging"
	"github.com/steveyegge/dealfinder/internal/merge"
	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/review"
	"github.com/steveyegge/dealfinder/internal/storage"
	"github.com/steveyegge/dealfinder/internal/types"
)

// DefaultFileName is the config file looked up when none is given.
const DefaultFileName = "dealfinder.yaml"

// Extractor names
const (
	ExtractorAuto      = "auto"
	ExtractorRules     = "rules"
	ExtractorAnthropic = "anthropic"
)

// MergeConfig is the YAML form of merge.Config.
type MergeConfig struct {
	WindowDays            int      `yaml:"window_days"`
	PrimarySourceKeywords []string `yaml:"primary_source_keywords"`
	Parallelism           int      `yaml:"parallelism"`
}

// ReviewConfig is the YAML form of review.Config.
type ReviewConfig struct {
	Defaults review.Defaults `yaml:"defaults"`

	// Vocabulary is given inline or as a file; the file wins.
	Vocabulary     review.Vocabulary `yaml:"vocabulary"`
	VocabularyFile string            `yaml:"vocabulary_file"`

	RequireExplicitTopic bool `yaml:"require_explicit_topic"`

	// StartDate and EndDate are YYYY-MM-DD, empty for unbounded
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// CanonicalConfig holds name normalization data.
type CanonicalConfig struct {
	AliasesFile    string              `yaml:"aliases_file"`
	CompanyAliases map[string][]string `yaml:"company_aliases"`
	LegalSuffixes  []string            `yaml:"legal_suffixes"`
}

// OutputConfig controls export locations.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is a host:port for /metrics; empty disables the endpoint
	Listen string `yaml:"listen"`
}

// ScheduleConfig controls scheduled runs.
type ScheduleConfig struct {
	// Cron is a standard five-field cron expression
	Cron string `yaml:"cron"`
}

// Config is the complete dealfinder configuration.
type Config struct {
	Storage     storage.Config             `yaml:"storage"`
	Convergence convergence.Config         `yaml:"convergence"`
	Retry       retry.Config               `yaml:"retry"`
	Discovery   discovery.Config           `yaml:"discovery"`
	Extractor   string                     `yaml:"extractor"`
	Fetcher     extraction.FetcherConfig   `yaml:"fetcher"`
	Anthropic   extraction.AnthropicConfig `yaml:"anthropic"`
	Merge       MergeConfig                `yaml:"merge"`
	Review      ReviewConfig               `yaml:"review"`
	Canonical   CanonicalConfig            `yaml:"canonical"`
	Logging     logging.Config             `yaml:"logging"`
	Output      OutputConfig               `yaml:"output"`
	Metrics     MetricsConfig              `yaml:"metrics"`
	Schedule    ScheduleConfig             `yaml:"schedule"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	m := merge.DefaultConfig()
	r := review.DefaultConfig()
	return &Config{
		Storage:     storage.DefaultConfig(),
		Convergence: convergence.DefaultConfig(),
		Retry:       retry.DefaultConfig(),
		Discovery:   discovery.DefaultConfig(),
		Extractor:   ExtractorAuto,
		Fetcher:     extraction.DefaultFetcherConfig(),
		Anthropic:   extraction.DefaultAnthropicConfig(),
		Merge: MergeConfig{
			WindowDays:            m.WindowDays,
			PrimarySourceKeywords: m.PrimarySourceKeywords,
			Parallelism:           m.Parallelism,
		},
		Review: ReviewConfig{
			Defaults:   r.Defaults,
			Vocabulary: r.Vocabulary,
		},
		Logging:  logging.DefaultConfig(),
		Output:   OutputConfig{Dir: "output"},
		Schedule: ScheduleConfig{Cron: "0 6 * * *"},
	}
}

// Load reads path (a missing file means defaults), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
//
// Environment variables:
//   - DEALFINDER_DATA_DIR, DEALFINDER_BACKEND, DEALFINDER_POSTGRES_URL, DEALFINDER_REDIS_URL
//   - DEALFINDER_DRY_CYCLES, DEALFINDER_MAX_CYCLES, DEALFINDER_WORKERS, DEALFINDER_CYCLE_INTERVAL
//   - DEALFINDER_MERGE_WINDOW_DAYS, DEALFINDER_MERGE_PARALLELISM, DEALFINDER_MERGE_PRIMARY_SOURCES
//   - DEALFINDER_THERAPEUTIC_AREA, DEALFINDER_START_DATE, DEALFINDER_END_DATE
//   - DEALFINDER_EXTRACTOR, DEALFINDER_MODEL, DEALFINDER_REQUESTS_PER_MINUTE
//   - DEALFINDER_LOG_LEVEL, DEALFINDER_LOG_DEVELOPMENT, DEALFINDER_OUTPUT_DIR, DEALFINDER_METRICS_LISTEN
//   - ANTHROPIC_API_KEY
func (c *Config) ApplyEnv() error {
	var backend string
	if err := parseEnvString("DEALFINDER_BACKEND", &backend); err != nil {
		return err
	}
	if backend != "" {
		c.Storage.Backend = storage.Backend(backend)
	}

	strs := []struct {
		key  string
		dest *string
	}{
		{"DEALFINDER_DATA_DIR", &c.Storage.DataDir},
		{"DEALFINDER_POSTGRES_URL", &c.Storage.PostgresURL},
		{"DEALFINDER_REDIS_URL", &c.Storage.RedisURL},
		{"DEALFINDER_THERAPEUTIC_AREA", &c.Review.Vocabulary.TherapeuticArea},
		{"DEALFINDER_START_DATE", &c.Review.StartDate},
		{"DEALFINDER_END_DATE", &c.Review.EndDate},
		{"DEALFINDER_EXTRACTOR", &c.Extractor},
		{"DEALFINDER_MODEL", &c.Anthropic.Model},
		{"DEALFINDER_LOG_LEVEL", &c.Logging.Level},
		{"DEALFINDER_OUTPUT_DIR", &c.Output.Dir},
		{"DEALFINDER_METRICS_LISTEN", &c.Metrics.Listen},
		{"ANTHROPIC_API_KEY", &c.Anthropic.APIKey},
	}
	for _, s := range strs {
		if err := parseEnvString(s.key, s.dest); err != nil {
			return err
		}
	}

	if err := convergence.ApplyEnv(&c.Convergence); err != nil {
		return err
	}
	if err := parseEnvDuration("DEALFINDER_CYCLE_INTERVAL", &c.Convergence.CycleInterval); err != nil {
		return err
	}
	if err := parseEnvInt("DEALFINDER_REQUESTS_PER_MINUTE", &c.Fetcher.RequestsPerMinute); err != nil {
		return err
	}
	if err := parseEnvBool("DEALFINDER_LOG_DEVELOPMENT", &c.Logging.Development); err != nil {
		return err
	}

	m := c.MergeConfig()
	if err := merge.ApplyEnv(&m); err != nil {
		return err
	}
	c.Merge = MergeConfig{
		WindowDays:            m.WindowDays,
		PrimarySourceKeywords: m.PrimarySourceKeywords,
		Parallelism:           m.Parallelism,
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"storage", c.Storage.Validate()},
		{"convergence", c.Convergence.Validate()},
		{"retry", c.Retry.Validate()},
		{"discovery", c.Discovery.Validate()},
		{"fetcher", c.Fetcher.Validate()},
		{"merge", c.MergeConfig().Validate()},
		{"logging", c.Logging.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.section, ch.err)
		}
	}

	switch c.Extractor {
	case ExtractorAuto, ExtractorRules:
	case ExtractorAnthropic:
		if c.Anthropic.APIKey == "" {
			return fmt.Errorf("extractor: anthropic requires ANTHROPIC_API_KEY")
		}
		if err := c.Anthropic.Validate(); err != nil {
			return fmt.Errorf("anthropic: %w", err)
		}
	default:
		return fmt.Errorf("extractor must be one of auto, rules, anthropic (got %q)", c.Extractor)
	}

	if c.Review.VocabularyFile == "" {
		if _, err := c.ReviewConfig(); err != nil {
			return fmt.Errorf("review: %w", err)
		}
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	return nil
}

// UseAnthropic reports whether the LLM extractor should be used.
func (c *Config) UseAnthropic() bool {
	switch c.Extractor {
	case ExtractorAnthropic:
		return true
	case ExtractorRules:
		return false
	}
	return c.Anthropic.APIKey != ""
}

// MergeConfig returns the merge resolver configuration.
func (c *Config) MergeConfig() merge.Config {
	return merge.Config{
		WindowDays:            c.Merge.WindowDays,
		PrimarySourceKeywords: c.Merge.PrimarySourceKeywords,
		Parallelism:           c.Merge.Parallelism,
	}
}

// ReviewConfig returns the review policy configuration, loading the
// vocabulary file when one is set.
func (c *Config) ReviewConfig() (review.Config, error) {
	rc := review.Config{
		Defaults:             c.Review.Defaults,
		Vocabulary:           c.Review.Vocabulary,
		RequireExplicitTopic: c.Review.RequireExplicitTopic,
	}
	if c.Review.VocabularyFile != "" {
		v, err := review.LoadVocabulary(c.Review.VocabularyFile)
		if err != nil {
			return rc, err
		}
		rc.Vocabulary = v
	}

	var err error
	if rc.StartDate, err = parseDate("start_date", c.Review.StartDate); err != nil {
		return rc, err
	}
	if rc.EndDate, err = parseDate("end_date", c.Review.EndDate); err != nil {
		return rc, err
	}
	if err := rc.Validate(); err != nil {
		return rc, err
	}
	return rc, nil
}

// Aliases returns the alias data: the aliases file merged with inline entries.
func (c *Config) Aliases() (canonical.Aliases, error) {
	a, err := canonical.LoadAliases(c.Canonical.AliasesFile)
	if err != nil {
		return a, err
	}
	return a.Merge(canonical.Aliases{
		CompanyAliases: c.Canonical.CompanyAliases,
		LegalSuffixes:  c.Canonical.LegalSuffixes,
	}), nil
}

// AnthropicConfig returns the LLM extractor configuration with the
// therapeutic area filled in.
func (c *Config) AnthropicConfig(area string) extraction.AnthropicConfig {
	ac := c.Anthropic
	ac.TherapeuticArea = area
	return ac
}

// OutputPath joins name onto the output directory.
func (c *Config) OutputPath(name string) string {
	return filepath.Join(c.Output.Dir, name)
}

// String returns a human-readable summary without secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Backend: %s, DataDir: %s, DryCycles: %d, Workers: %d, Extractor: %s, Area: %s, Feeds: %d}",
		c.Storage.Backend, c.Storage.DataDir, c.Convergence.DryCycles, c.Convergence.Workers,
		c.Extractor, c.Review.Vocabulary.TherapeuticArea, len(c.Discovery.Feeds))
}

func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD (got %q)", field, s)
	}
	return t, nil
}

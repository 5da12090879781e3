package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/storage"
	"github.com/steveyegge/dealfinder/internal/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Convergence.DryCycles)
	assert.Equal(t, 3, cfg.Merge.WindowDays)
	assert.Equal(t, types.StagePreclinical, cfg.Review.Defaults.Stage)
	assert.Equal(t, types.DealTypePartnership, cfg.Review.Defaults.DealType)
	assert.Equal(t, storage.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, ExtractorAuto, cfg.Extractor)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "dealfinder.yaml", `
storage:
  backend: file
  data_dir: /tmp/deals
convergence:
  dry_cycles: 3
  cycle_interval: 90s
merge:
  window_days: 5
review:
  defaults:
    stage: unknown
  vocabulary:
    therapeutic_area: immunology
    includes: [lupus, psoriasis]
  start_date: "2021-01-01"
  end_date: "2025-12-31"
canonical:
  company_aliases:
    Bristol Myers Squibb: [BMS]
extractor: rules
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, storage.BackendFile, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/deals", cfg.Storage.DataDir)
	assert.Equal(t, 3, cfg.Convergence.DryCycles)
	assert.Equal(t, 4, cfg.Convergence.Workers)
	assert.Equal(t, 90*time.Second, cfg.Convergence.CycleInterval)
	assert.Equal(t, 5, cfg.MergeConfig().WindowDays)
	assert.Equal(t, 4, cfg.MergeConfig().Parallelism)
	assert.False(t, cfg.UseAnthropic())

	rc, err := cfg.ReviewConfig()
	require.NoError(t, err)
	assert.Equal(t, types.StageUnknown, rc.Defaults.Stage)
	assert.Equal(t, types.DealTypePartnership, rc.Defaults.DealType)
	assert.Equal(t, "immunology", rc.Vocabulary.TherapeuticArea)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), rc.StartDate)

	aliases, err := cfg.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"BMS"}, aliases.CompanyAliases["Bristol Myers Squibb"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEALFINDER_BACKEND", "redis")
	t.Setenv("DEALFINDER_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DEALFINDER_DRY_CYCLES", "7")
	t.Setenv("DEALFINDER_MERGE_WINDOW_DAYS", "1")
	t.Setenv("DEALFINDER_THERAPEUTIC_AREA", "neurology")
	t.Setenv("DEALFINDER_CYCLE_INTERVAL", "2m")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, storage.BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Convergence.DryCycles)
	assert.Equal(t, 1, cfg.Merge.WindowDays)
	assert.Equal(t, "neurology", cfg.Review.Vocabulary.TherapeuticArea)
	assert.Equal(t, 2*time.Minute, cfg.Convergence.CycleInterval)
	assert.True(t, cfg.UseAnthropic())
	assert.Equal(t, "neurology", cfg.AnthropicConfig("neurology").TherapeuticArea)
	assert.NotContains(t, cfg.String(), "sk-test")
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad yaml", yaml: "storage: [unclosed"},
		{name: "dry cycles", yaml: "convergence:\n  dry_cycles: 0\n"},
		{name: "window", yaml: "merge:\n  window_days: -1\n"},
		{name: "backend", yaml: "storage:\n  backend: mongo\n"},
		{name: "postgres without url", yaml: "storage:\n  backend: postgres\n"},
		{name: "extractor", yaml: "extractor: magic\n"},
		{name: "anthropic without key", yaml: "extractor: anthropic\n"},
		{name: "date", yaml: "review:\n  start_date: 01/02/2021\n"},
		{name: "date order", yaml: "review:\n  start_date: \"2022-01-01\"\n  end_date: \"2021-01-01\"\n"},
		{name: "stage default", yaml: "review:\n  defaults:\n    stage: phase 3\n"},
		{name: "log level", yaml: "logging:\n  level: loud\n"},
		{name: "env int", yaml: "", env: map[string]string{"DEALFINDER_WORKERS": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeFile(t, "dealfinder.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestVocabularyFile(t *testing.T) {
	vocab := writeFile(t, "vocab.yaml", "therapeutic_area: oncology\nincludes: [tumor]\n")
	cfg := Default()
	cfg.Review.VocabularyFile = vocab

	rc, err := cfg.ReviewConfig()
	require.NoError(t, err)
	assert.Equal(t, "oncology", rc.Vocabulary.TherapeuticArea)
	assert.Equal(t, []string{"tumor"}, rc.Vocabulary.Includes)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "DEALFINDER_TEST_DOTENV=from-file\n")
	t.Setenv("DEALFINDER_TEST_DOTENV", "")
	os.Unsetenv("DEALFINDER_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("DEALFINDER_TEST_DOTENV"))
	os.Unsetenv("DEALFINDER_TEST_DOTENV")
}

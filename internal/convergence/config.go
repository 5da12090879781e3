package convergence

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the convergence controller
type Config struct {
	// DryCycles is the convergence threshold K: the run converges after K
	// consecutive cycles that add no new canonical deal.
	// Default: 5
	DryCycles int `yaml:"dry_cycles"`

	// MaxCycles stops the run (resumably, not as converged) after this many
	// cycles in one invocation. Zero means no limit.
	// Default: 0
	MaxCycles int `yaml:"max_cycles"`

	// Workers bounds concurrent extraction calls per cycle.
	// Default: 4
	Workers int `yaml:"workers"`

	// CycleInterval is the pause between cycles, giving sources time to
	// publish. Stop requests interrupt it.
	// Default: 0
	CycleInterval time.Duration `yaml:"cycle_interval"`
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		DryCycles: 5,
		Workers:   4,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.DryCycles < 1 || c.DryCycles > 100 {
		return fmt.Errorf("dry_cycles must be between 1 and 100 (got %d)", c.DryCycles)
	}
	if c.MaxCycles < 0 {
		return fmt.Errorf("max_cycles must be >= 0 (got %d)", c.MaxCycles)
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("workers must be between 1 and 64 (got %d)", c.Workers)
	}
	if c.CycleInterval < 0 {
		return fmt.Errorf("cycle_interval must be >= 0 (got %v)", c.CycleInterval)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("ConvergenceConfig{DryCycles: %d, MaxCycles: %d, Workers: %d, CycleInterval: %v}",
		c.DryCycles, c.MaxCycles, c.Workers, c.CycleInterval)
}

// ApplyEnv overrides cfg from DEALFINDER_DRY_CYCLES, DEALFINDER_MAX_CYCLES
// and DEALFINDER_WORKERS.
func ApplyEnv(cfg *Config) error {
	for key, dest := range map[string]*int{
		"DEALFINDER_DRY_CYCLES": &cfg.DryCycles,
		"DEALFINDER_MAX_CYCLES": &cfg.MaxCycles,
		"DEALFINDER_WORKERS":    &cfg.Workers,
	} {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dest = n
	}
	return nil
}

// Package retry runs collaborator calls with exponential backoff behind a
// circuit breaker, and classifies failures as transient or fatal.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds retry configuration for collaborator calls
type Config struct {
	MaxRetries        int           `yaml:"max_retries"`        // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration `yaml:"initial_backoff"`    // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration `yaml:"max_backoff"`        // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       `yaml:"backoff_multiplier"` // Backoff multiplier (default: 2.0)
	Timeout           time.Duration `yaml:"timeout"`            // Per-attempt timeout (default: 20s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          `yaml:"circuit_breaker"`   // Enable circuit breaker (default: true)
	FailureThreshold      int           `yaml:"failure_threshold"` // Failures before opening circuit (default: 5)
	SuccessThreshold      int           `yaml:"success_threshold"` // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration `yaml:"open_timeout"`      // How long to keep circuit open (default: 30s)
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               20 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10 (got %d)", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive (got %v)", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff (got %v < %v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be >= 1.0 (got %.2f)", c.BackoffMultiplier)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.CircuitBreakerEnabled {
		if c.FailureThreshold < 1 {
			return fmt.Errorf("failure_threshold must be >= 1 (got %d)", c.FailureThreshold)
		}
		if c.SuccessThreshold < 1 {
			return fmt.Errorf("success_threshold must be >= 1 (got %d)", c.SuccessThreshold)
		}
	}
	return nil
}

// Retrier executes operations with retry and exponential backoff. It is
// safe for concurrent use; all callers share one circuit breaker.
type Retrier struct {
	cfg     Config
	breaker *CircuitBreaker
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier.
func New(cfg Config, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retrier{cfg: cfg, logger: logger, sleep: sleepContext}
	if cfg.CircuitBreakerEnabled {
		r.breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, logger)
	}
	return r
}

// Breaker returns the circuit breaker, or nil when disabled.
func (r *Retrier) Breaker() *CircuitBreaker {
	return r.breaker
}

// Do runs fn until it succeeds, fails with a non-retriable error, or
// retries are exhausted. Fatal errors are returned immediately.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var lastErr error
	backoff := r.cfg.InitialBackoff

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if r.breaker != nil {
			if err := r.breaker.Allow(); err != nil {
				state, failures, _ := r.breaker.Metrics()
				r.logger.Warn("call blocked by circuit breaker",
					zap.String("operation", operation),
					zap.Stringer("state", state),
					zap.Int("failures", failures))
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			if attempt > 0 {
				r.logger.Info("call succeeded after retries",
					zap.String("operation", operation),
					zap.Int("retries", attempt))
			}
			return nil
		}
		lastErr = err

		// Context cancellation by the caller is neither retried nor counted
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		retriable := IsRetriable(err)
		// Non-retriable errors (bad request, not found) say nothing about the
		// collaborator's health
		if r.breaker != nil && retriable {
			r.breaker.RecordFailure()
		}
		if !retriable {
			return err
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		r.logger.Debug("call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", r.cfg.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if err := r.sleep(ctx, backoff); err != nil {
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, err)
		}
		backoff = time.Duration(float64(backoff) * r.cfg.BackoffMultiplier)
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.cfg.MaxRetries+1, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fatalError marks a failure that must end the run.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks err as unrecoverable. Collaborators use it for failures no
// amount of retrying can fix (bad credentials, exhausted quota).
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or anything it wraps, was marked Fatal.
func IsFatal(err error) bool {
	var fe *fatalError
	return errors.As(err, &fe)
}

// StatusError is an HTTP response status returned as an error.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// Retriable reports whether the status is worth retrying (429 and 5xx).
func (e *StatusError) Retriable() bool {
	return e.Code == 429 || e.Code >= 500
}

// IsRetriable determines if an error is retriable (transient)
func IsRetriable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	// SDK errors often only carry the status in their message
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit",
		"500", "502", "503", "504", "529",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout", "overloaded",
		"connection refused", "connection reset", "timeout", "temporary failure", "eof",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	// Default to not retrying unknown errors
	return false
}

package convergence

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/dealfinder/internal/merge"
	"github.com/steveyegge/dealfinder/internal/types"
)

// State is the controller state.
type State string

const (
	StateDiscovering State = "DISCOVERING"
	StateConverged   State = "CONVERGED"
	StateAborted     State = "ABORTED"
)

// IsTerminal reports whether no further cycles may run.
func (s State) IsTerminal() bool {
	return s == StateConverged || s == StateAborted
}

// IsValid checks if the state value is valid
func (s State) IsValid() bool {
	switch s {
	case StateDiscovering, StateConverged, StateAborted:
		return true
	}
	return false
}

// Discoverer yields candidate URLs for one cycle. The stream may repeat URLs
// and URLs already processed in earlier runs.
type Discoverer interface {
	Discover(ctx context.Context) ([]types.Candidate, error)
}

// Extractor turns one candidate into a draft record. A draft with NoDeal set
// is an explicit "no deal here" answer. Errors wrapped with retry.Fatal end
// the run; other errors leave the URL unledgered for a later cycle.
type Extractor interface {
	Extract(ctx context.Context, c types.Candidate) (*types.Draft, error)
}

// DiscovererFunc adapts a function to Discoverer.
type DiscovererFunc func(ctx context.Context) ([]types.Candidate, error)

// Discover implements Discoverer.
func (f DiscovererFunc) Discover(ctx context.Context) ([]types.Candidate, error) { return f(ctx) }

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, c types.Candidate) (*types.Draft, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, c types.Candidate) (*types.Draft, error) {
	return f(ctx, c)
}

// RunContext is the explicit state of one run. It is passed into every cycle
// instead of living in package state, so independent runs can share a
// process.
type RunContext struct {
	RunID     string
	State     State
	Cycle     int
	DryCycles int
	Threshold int
	StartedAt time.Time

	// Resumed is set when the run continues from a checkpoint
	Resumed bool

	// Set is the canonical deal set accumulated so far
	Set *merge.CanonicalSet
}

// CycleReport summarizes one discovery cycle.
type CycleReport struct {
	Cycle      int
	Discovered int
	NewURLs    int

	Extracted   int
	Deals       int
	NoDeal      int
	Excluded    int
	Malformed   int
	FetchErrors int

	// Added is the number of new canonical deals this cycle
	Added int
	// Merged is the number of records folded into existing deals
	Merged int

	DryCycles int
	State     State

	// Interrupted is set when the cycle was cut short by a stop request;
	// it never counts as a dry cycle
	Interrupted bool

	Duration time.Duration
}

// Result is the outcome of Run.
type Result struct {
	RunID  string
	State  State
	Cycles int

	// Stopped is set when the run paused before reaching a terminal state
	// (stop request, cancellation or MaxCycles). It can be resumed.
	Stopped bool

	// Records is the canonical deal set at the end of the run
	Records []*types.DealRecord

	Reports []CycleReport
	Elapsed time.Duration
}

// AbortError reports an unrecoverable collaborator or persistence failure.
// The canonical set was flushed before it was returned.
type AbortError struct {
	Cycle int
	Err   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted in cycle %d: %v", e.Cycle, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

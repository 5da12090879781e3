// Package convergence runs discovery cycles until nothing new turns up.
//
// Each cycle discovers candidate URLs, extracts the ones the ledger has not
// seen, runs intake (review policy, canonicalization) and folds the resulting
// records into the canonical set. The run converges after K consecutive
// cycles that add no new canonical deal. An open-ended web search space has
// no natural last page, so "nothing new for a while" is the stopping rule.
//
// Per cycle, state is persisted in a fixed order: the checkpoint (canonical
// set and counters) first, then the ledger entries for the cycle's URLs.
package convergence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/dealfinder/internal/canonical"
	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/merge"
	"github.com/steveyegge/dealfinder/internal/retry"
	"github.com/steveyegge/dealfinder/internal/review"
	"github.com/steveyegge/dealfinder/internal/types"
)

// Deps are the controller's collaborators.
type Deps struct {
	Discoverer    Discoverer
	Extractor     Extractor
	Ledger        ledger.Ledger
	Checkpoints   checkpoint.Store
	Policy        *review.Policy
	Canonicalizer *canonical.Canonicalizer
	Resolver      *merge.Resolver

	// Retrier wraps discovery and extraction calls. Nil means
	// retry.New(retry.DefaultConfig(), Logger).
	Retrier *retry.Retrier

	// Metrics is optional
	Metrics MetricsCollector
	Logger  *zap.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Discoverer == nil:
		return errors.New("discoverer is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.Ledger == nil:
		return errors.New("ledger is required")
	case d.Checkpoints == nil:
		return errors.New("checkpoint store is required")
	case d.Policy == nil:
		return errors.New("review policy is required")
	case d.Canonicalizer == nil:
		return errors.New("canonicalizer is required")
	case d.Resolver == nil:
		return errors.New("merge resolver is required")
	}
	return nil
}

// Controller drives the cycle loop.
type Controller struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

// NewController creates a controller.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid convergence config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Retrier == nil {
		deps.Retrier = retry.New(retry.DefaultConfig(), deps.Logger)
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		log:    deps.Logger,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}, nil
}

// Stop asks the loop to finish the current cycle and return. It is safe to
// call more than once and from any goroutine.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Start loads the latest checkpoint and returns the run to execute.
//
// A DISCOVERING checkpoint is resumed. After a terminal checkpoint a new run
// begins with the previous canonical set as its baseline, since those deals'
// URLs are already ledgered and will not be extracted again.
func (c *Controller) Start(ctx context.Context) (*RunContext, error) {
	cp, err := c.deps.Checkpoints.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	rc := &RunContext{
		RunID:     uuid.NewString(),
		State:     StateDiscovering,
		Threshold: c.cfg.DryCycles,
		StartedAt: c.now().UTC(),
		Set:       merge.NewCanonicalSet(c.deps.Resolver, c.log),
	}
	if cp == nil {
		c.log.Info("starting new run", zap.String("run_id", rc.RunID))
		return rc, nil
	}

	if err := rc.Set.Restore(cp.Deals, cp.NextSeq); err != nil {
		return nil, fmt.Errorf("failed to restore canonical set: %w", err)
	}

	state := State(cp.State)
	if !state.IsValid() {
		return nil, fmt.Errorf("checkpoint has unknown state %q", cp.State)
	}
	if state.IsTerminal() {
		c.log.Info("starting new run from previous canonical set",
			zap.String("run_id", rc.RunID),
			zap.String("previous_run_id", cp.RunID),
			zap.String("previous_state", cp.State),
			zap.Int("deals", rc.Set.Len()))
		return rc, nil
	}

	rc.RunID = cp.RunID
	rc.Cycle = cp.Cycle
	rc.DryCycles = cp.DryCycles
	rc.StartedAt = cp.StartedAt
	rc.Resumed = true
	c.log.Info("resuming run",
		zap.String("run_id", rc.RunID),
		zap.Int("cycle", rc.Cycle),
		zap.Int("dry_cycles", rc.DryCycles),
		zap.Int("deals", rc.Set.Len()))
	return rc, nil
}

// Run executes cycles until the run converges, aborts, is stopped or hits
// MaxCycles. An abort returns the result together with an *AbortError; the
// canonical set has been checkpointed by then.
func (c *Controller) Run(ctx context.Context, rc *RunContext) (*Result, error) {
	if rc.State.IsTerminal() {
		return nil, fmt.Errorf("run %s already %s", rc.RunID, rc.State)
	}

	start := c.now()
	result := &Result{RunID: rc.RunID}
	finish := func() *Result {
		result.State = rc.State
		result.Cycles = rc.Cycle
		result.Records = rc.Set.Records()
		result.Elapsed = c.now().Sub(start)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordRunComplete(result)
		}
		return result
	}

	ran := 0
	for {
		if c.stopped() || ctx.Err() != nil {
			result.Stopped = true
			break
		}
		if c.cfg.MaxCycles > 0 && ran >= c.cfg.MaxCycles {
			c.log.Info("cycle limit reached", zap.Int("max_cycles", c.cfg.MaxCycles))
			result.Stopped = true
			break
		}

		report, err := c.RunCycle(ctx, rc)
		ran++
		if report != nil {
			result.Reports = append(result.Reports, *report)
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordCycle(report)
			}
		}
		if err != nil {
			return finish(), err
		}
		if rc.State.IsTerminal() {
			break
		}
		if report.Interrupted {
			result.Stopped = true
			break
		}
		if !c.wait(ctx) {
			result.Stopped = true
			break
		}
	}

	res := finish()
	c.log.Info("run finished",
		zap.String("run_id", res.RunID),
		zap.String("state", string(res.State)),
		zap.Bool("stopped", res.Stopped),
		zap.Int("cycles", res.Cycles),
		zap.Int("deals", len(res.Records)),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// wait sleeps for the cycle interval. It returns false if a stop was
// requested meanwhile.
func (c *Controller) wait(ctx context.Context) bool {
	if c.cfg.CycleInterval <= 0 {
		return true
	}
	t := time.NewTimer(c.cfg.CycleInterval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// extraction is the outcome of one extract call.
type extraction struct {
	done  bool
	draft *types.Draft
	err   error
}

// RunCycle executes one cycle against rc. A returned error is always an
// *AbortError and rc is ABORTED.
func (c *Controller) RunCycle(ctx context.Context, rc *RunContext) (*CycleReport, error) {
	started := c.now()
	cycle := rc.Cycle + 1
	report := &CycleReport{Cycle: cycle, State: rc.State}
	log := c.log.With(zap.String("run_id", rc.RunID), zap.Int("cycle", cycle))

	var candidates []types.Candidate
	err := c.deps.Retrier.Do(ctx, "discover", func(ctx context.Context) error {
		var err error
		candidates, err = c.deps.Discoverer.Discover(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			// Stopped before any URL was extracted: nothing to record
			report.Interrupted = true
			report.DryCycles = rc.DryCycles
			report.Duration = c.now().Sub(started)
			return report, nil
		}
		return report, c.abort(rc, cycle, fmt.Errorf("discovery failed: %w", err))
	}
	report.Discovered = len(candidates)

	fresh, err := ledger.NewURLs(ctx, c.deps.Ledger, candidates)
	if err != nil {
		if ctx.Err() != nil {
			report.Interrupted = true
			report.DryCycles = rc.DryCycles
			report.Duration = c.now().Sub(started)
			return report, nil
		}
		return report, c.abort(rc, cycle, fmt.Errorf("failed to read ledger: %w", err))
	}
	report.NewURLs = len(fresh)
	log.Debug("discovered candidates",
		zap.Int("discovered", report.Discovered),
		zap.Int("new", report.NewURLs))

	results, err := c.extractAll(ctx, fresh)
	if err != nil {
		return report, c.abort(rc, cycle, err)
	}
	report.Interrupted = ctx.Err() != nil

	recs, entries := c.intake(rc, fresh, results, report, log)

	added, err := rc.Set.FoldAll(context.WithoutCancel(ctx), recs)
	if err != nil {
		return report, c.abort(rc, cycle, err)
	}
	report.Added = added
	report.Merged = len(recs) - added

	switch {
	case added > 0:
		rc.DryCycles = 0
	case !report.Interrupted:
		rc.DryCycles++
	}
	rc.Cycle = cycle
	if rc.DryCycles >= rc.Threshold {
		rc.State = StateConverged
		rc.Set.Freeze()
	}

	if err := c.save(rc); err != nil {
		return report, c.abort(rc, cycle, err)
	}
	if err := c.deps.Ledger.MarkBatch(context.WithoutCancel(ctx), entries); err != nil {
		return report, c.abort(rc, cycle, fmt.Errorf("failed to ledger processed URLs: %w", err))
	}

	report.DryCycles = rc.DryCycles
	report.State = rc.State
	report.Duration = c.now().Sub(started)
	log.Info("cycle complete",
		zap.Int("new_urls", report.NewURLs),
		zap.Int("deals", report.Deals),
		zap.Int("added", report.Added),
		zap.Int("merged", report.Merged),
		zap.Int("excluded", report.Excluded),
		zap.Int("malformed", report.Malformed),
		zap.Int("fetch_errors", report.FetchErrors),
		zap.Int("dry_cycles", rc.DryCycles),
		zap.String("state", string(rc.State)),
		zap.Bool("interrupted", report.Interrupted))
	return report, nil
}

// extractAll runs the extractor over candidates on a bounded pool. Per-URL
// failures are recorded in the results. Only fatal failures and an open
// circuit return an error; they cancel the remaining calls.
func (c *Controller) extractAll(ctx context.Context, candidates []types.Candidate) ([]extraction, error) {
	results := make([]extraction, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for i, cand := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			var draft *types.Draft
			err := c.deps.Retrier.Do(gctx, "extract", func(ctx context.Context) error {
				var err error
				draft, err = c.deps.Extractor.Extract(ctx, cand)
				return err
			})
			switch {
			case err == nil:
				results[i] = extraction{done: true, draft: draft}
			case retry.IsFatal(err) || errors.Is(err, retry.ErrCircuitOpen):
				return fmt.Errorf("extraction of %s failed: %w", cand.URL, err)
			case gctx.Err() != nil:
				// Cancelled mid-call: leave unledgered
			default:
				results[i] = extraction{done: true, err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// intake turns extraction results into canonical records and ledger entries,
// in candidate order. Fetch errors and cancelled calls produce neither.
func (c *Controller) intake(rc *RunContext, candidates []types.Candidate, results []extraction,
	report *CycleReport, log *zap.Logger) ([]*types.DealRecord, []ledger.Entry) {

	var recs []*types.DealRecord
	var entries []ledger.Entry
	now := c.now().UTC()

	for i, cand := range candidates {
		res := results[i]
		if !res.done {
			continue
		}
		if res.err != nil {
			report.FetchErrors++
			log.Warn("extraction failed, URL left for a later cycle",
				zap.String("url", cand.URL),
				zap.Error(res.err))
			continue
		}
		report.Extracted++

		entry := ledger.Entry{
			URL: cand.URL,
			Metadata: ledger.Metadata{
				Source:      cand.Source,
				PublishedAt: cand.PublishedAt,
				RunID:       rc.RunID,
			},
			ProcessedAt: now,
		}

		rec, outcome := c.toRecord(cand, res.draft, log)
		entry.Outcome = outcome
		switch outcome {
		case ledger.OutcomeDeal:
			report.Deals++
			entry.CanonicalKey = rec.CanonicalKey()
			recs = append(recs, rec)
		case ledger.OutcomeNoDeal:
			report.NoDeal++
		case ledger.OutcomeExcluded:
			report.Excluded++
		case ledger.OutcomeMalformed:
			report.Malformed++
		}
		entries = append(entries, entry)
	}
	return recs, entries
}

func (c *Controller) toRecord(cand types.Candidate, draft *types.Draft, log *zap.Logger) (*types.DealRecord, ledger.Outcome) {
	if draft == nil || draft.NoDeal {
		return nil, ledger.OutcomeNoDeal
	}
	if draft.URL == "" {
		draft.URL = cand.URL
	}
	if draft.Source == "" {
		draft.Source = cand.Source
	}

	rec, err := c.deps.Policy.Apply(draft)
	if err == nil {
		err = c.deps.Canonicalizer.Canonicalize(rec)
	}
	if err == nil {
		return rec, ledger.OutcomeDeal
	}

	var excl *review.ExclusionError
	var malformed *types.MalformedRecordError
	switch {
	case errors.As(err, &excl):
		log.Debug("record excluded",
			zap.String("url", cand.URL),
			zap.String("dimension", string(excl.Dimension)),
			zap.String("reason", excl.Reason))
		return nil, ledger.OutcomeExcluded
	case errors.As(err, &malformed):
		log.Info("record malformed",
			zap.String("url", cand.URL),
			zap.String("field", malformed.Field))
	default:
		log.Warn("record rejected",
			zap.String("url", cand.URL),
			zap.Error(err))
	}
	return nil, ledger.OutcomeMalformed
}

// abort marks the run ABORTED and flushes the canonical set.
func (c *Controller) abort(rc *RunContext, cycle int, cause error) error {
	rc.State = StateAborted
	rc.Set.Freeze()
	c.log.Error("run aborted",
		zap.String("run_id", rc.RunID),
		zap.Int("cycle", cycle),
		zap.Int("deals", rc.Set.Len()),
		zap.Error(cause))

	if err := c.save(rc); err != nil {
		cause = errors.Join(cause, err)
	}
	return &AbortError{Cycle: cycle, Err: cause}
}

func (c *Controller) save(rc *RunContext) error {
	cp := &checkpoint.Checkpoint{
		SchemaVersion: checkpoint.SchemaVersion,
		RunID:         rc.RunID,
		State:         string(rc.State),
		Cycle:         rc.Cycle,
		DryCycles:     rc.DryCycles,
		Threshold:     rc.Threshold,
		NextSeq:       rc.Set.NextSeq(),
		Deals:         rc.Set.Records(),
		StartedAt:     rc.StartedAt,
	}
	if err := c.deps.Checkpoints.Save(context.Background(), cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/convergence"
	"github.com/steveyegge/dealfinder/internal/export"
	"github.com/steveyegge/dealfinder/internal/storage"
	"github.com/steveyegge/dealfinder/internal/types"
)

var (
	runMaxCycles int
	runNoExport  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run discovery cycles until the deal set converges",
	Long: `Run discovery cycles until no new deal has been found for convergence.dry_cycles
cycles in a row.

A run interrupted with Ctrl+C finishes its current cycle, checkpoints and exits;
the next 'dealfinder run' resumes it. Press Ctrl+C twice to cancel in-flight fetches.

Example:
  $ dealfinder run --max-cycles 3
  ✓ Run 3f2a9c1e stopped after 3 cycles: 12 deals (4 need review)`,
	Run: func(cmd *cobra.Command, args []string) {
		if runMaxCycles > 0 {
			cfg.Convergence.MaxCycles = runMaxCycles
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stopCh := make(chan struct{})
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			<-sigCh
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s Finishing current cycle (Ctrl+C again to cancel)...\n", yellow("⚠"))
			close(stopCh)
			<-sigCh
			cancel()
		}()

		reg := prometheus.NewRegistry()
		shutdown := startMetricsServer(reg)
		defer shutdown()

		if _, err := runOnce(ctx, convergence.NewPrometheusCollector(reg), stopCh, !runNoExport); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxCycles, "max-cycles", 0, "Stop (resumably) after this many cycles")
	runCmd.Flags().BoolVar(&runNoExport, "no-export", false, "Skip writing the workbook and evidence log")
	rootCmd.AddCommand(runCmd)
}

// runOnce executes one run under the data directory lock. Closing stopCh
// asks the controller to stop after the current cycle.
func runOnce(ctx context.Context, metrics convergence.MetricsCollector, stopCh <-chan struct{}, writeExports bool) (*convergence.Result, error) {
	lockPath, err := storage.AcquireLock(cfg.Storage.DataDir, "dealfinder run", Version)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := storage.ReleaseLock(lockPath); err != nil {
			logger.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	p, err := openPipeline(ctx, metrics)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stopCh:
			p.controller.Stop()
		case <-done:
		}
	}()

	rc, err := p.controller.Start(ctx)
	if err != nil {
		return nil, err
	}
	if rc.Resumed {
		fmt.Printf("Resuming run %s at cycle %d (%d deals)\n", shortID(rc.RunID), rc.Cycle, rc.Set.Len())
	} else {
		fmt.Printf("Starting run %s (%d deals carried over)\n", shortID(rc.RunID), rc.Set.Len())
	}

	result, runErr := p.controller.Run(ctx, rc)
	if result == nil {
		return nil, runErr
	}

	quality := export.CheckQuality(result.Records)
	if writeExports && len(result.Records) > 0 {
		if err := writeRunExports(ctx, p, result); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}

	entry := export.RunEntry{
		RunID:           result.RunID,
		Timestamp:       time.Now().UTC(),
		State:           string(result.State),
		Cycles:          result.Cycles,
		DurationSeconds: result.Elapsed.Seconds(),
		TherapeuticArea: p.area,
		Quality:         quality,
	}
	if result.Stopped {
		entry.State = "STOPPED"
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := export.NewRunLog(filepath.Join(cfg.Storage.DataDir, export.RunLogFileName)).Append(entry); err != nil {
		logger.Warn("failed to append run log", zap.Error(err))
	}

	printRunSummary(result, quality)
	return result, runErr
}

func writeRunExports(ctx context.Context, p *pipeline, result *convergence.Result) error {
	decisions, err := p.stores.Decisions.Decisions(ctx)
	if err != nil {
		return err
	}
	id := shortID(result.RunID)
	xlsx := cfg.OutputPath(fmt.Sprintf("deals_%s.xlsx", id))
	if err := export.WriteExcel(xlsx, result.Records, decisions); err != nil {
		return err
	}
	evidence := cfg.OutputPath(fmt.Sprintf("evidence_%s.jsonl", id))
	if err := export.WriteEvidence(evidence, result.Records); err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", xlsx, evidence)
	return nil
}

func printRunSummary(result *convergence.Result, quality export.QualityReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	mark, verb := green("✓"), "converged"
	switch {
	case result.State == convergence.StateAborted:
		mark, verb = red("✗"), "aborted"
	case result.Stopped:
		mark, verb = yellow("⚠"), "stopped"
	}
	fmt.Printf("%s Run %s %s after %d cycles in %s: %d deals (%d need review)\n",
		mark, shortID(result.RunID), verb, result.Cycles, formatDuration(result.Elapsed),
		len(result.Records), quality.NeedsReview)

	if len(result.Reports) > 0 {
		tbl := export.NewTable("Cycle", "New URLs", "Deals", "No deal", "Excluded", "Malformed", "Errors", "Added", "Dry")
		for _, r := range result.Reports {
			tbl.AddRow(r.Cycle, r.NewURLs, r.Deals, r.NoDeal, r.Excluded, r.Malformed, r.FetchErrors, r.Added, r.DryCycles)
		}
		_ = tbl.Render(os.Stdout)
	}
	if quality.Status != export.StatusOK {
		for _, issue := range quality.Issues {
			fmt.Printf("%s %s\n", yellow("⚠"), issue)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// recordsFromCheckpoint loads the canonical set saved by the last run.
func recordsFromCheckpoint(ctx context.Context, stores *storage.Stores) ([]*types.DealRecord, string, error) {
	cp, err := stores.Checkpoints.Load(ctx)
	if err != nil {
		return nil, "", err
	}
	if cp == nil {
		return nil, "", fmt.Errorf("no checkpoint in %s; run 'dealfinder run' first", cfg.Storage.DataDir)
	}
	return cp.Deals, cp.RunID, nil
}

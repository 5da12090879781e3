package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/dealfinder/internal/convergence"
	"github.com/steveyegge/dealfinder/internal/export"
	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/storage"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current run, the URL ledger and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := storage.InspectDataDir(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		header("Data directory")
		fmt.Printf("Path:       %s\n", info.Path)
		fmt.Printf("Backend:    %s\n", cfg.Storage.Backend)
		for _, f := range info.Files {
			fmt.Printf("  %-22s %8s  %s\n", f.Name, humanBytes(f.Size), f.ModTime.Local().Format("2006-01-02 15:04"))
		}
		if info.Lock != nil {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("%s Locked by %s (PID %d on %s since %s)\n", yellow("⚠"),
				info.Lock.Holder, info.Lock.PID, info.Lock.Hostname, formatDuration(time.Since(info.Lock.StartedAt)))
		}

		ctx := context.Background()
		stores, err := storage.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer stores.Close()

		header("Run")
		cp, err := stores.Checkpoints.Load(ctx)
		if err != nil {
			return err
		}
		if cp == nil {
			fmt.Println("No run yet.")
		} else {
			stateColor := color.New(color.FgYellow)
			switch convergence.State(cp.State) {
			case convergence.StateConverged:
				stateColor = color.New(color.FgGreen)
			case convergence.StateAborted:
				stateColor = color.New(color.FgRed)
			}
			fmt.Printf("Run:        %s\n", cp.RunID)
			fmt.Printf("State:      %s\n", stateColor.Sprint(cp.State))
			fmt.Printf("Cycle:      %d (dry %d/%d)\n", cp.Cycle, cp.DryCycles, cp.Threshold)
			fmt.Printf("Deals:      %d\n", len(cp.Deals))
			fmt.Printf("Updated:    %s ago\n", formatDuration(time.Since(cp.UpdatedAt)))
		}

		header("Ledger")
		stats, err := stores.Ledger.Stats(ctx)
		if err != nil {
			return err
		}
		printLedgerStats(stats)

		header("Recent runs")
		runs, err := export.NewRunLog(filepath.Join(cfg.Storage.DataDir, export.RunLogFileName)).Recent(statusRuns)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs logged.")
			return nil
		}
		tbl := export.NewTable("Run", "Finished", "State", "Cycles", "Duration", "Deals", "Review", "Quality")
		for _, r := range runs {
			tbl.AddRow(shortID(r.RunID), r.Timestamp.Local().Format("2006-01-02 15:04"), r.State, r.Cycles,
				formatDuration(time.Duration(r.DurationSeconds*float64(time.Second))),
				r.Quality.Total, r.Quality.NeedsReview, r.Quality.Status)
		}
		return tbl.Render(os.Stdout)
	},
}

func printLedgerStats(stats ledger.Stats) {
	fmt.Printf("Processed URLs: %d\n\n", stats.Total)
	if stats.Total == 0 {
		return
	}
	outcomes := export.NewTable("Outcome", "URLs")
	for _, o := range []ledger.Outcome{ledger.OutcomeDeal, ledger.OutcomeNoDeal, ledger.OutcomeExcluded, ledger.OutcomeMalformed} {
		outcomes.AddRow(string(o), stats.ByOutcome[o])
	}
	_ = outcomes.Render(os.Stdout)
	fmt.Println()

	sources := export.NewTable("Source", "URLs")
	for _, s := range stats.SortedSources() {
		sources.AddRow(s, stats.BySource[s])
	}
	_ = sources.Render(os.Stdout)
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func init() {
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 5, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

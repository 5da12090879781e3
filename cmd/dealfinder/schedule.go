package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/convergence"
	"github.com/steveyegge/dealfinder/internal/storage"
)

var scheduleCron string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run on a cron schedule until interrupted",
	Long: `Start a run every time the cron expression fires (schedule.cron, default daily
at 06:00). Each run converges and writes its exports before the next may start;
a firing while a run is still going is skipped.

Example:
  $ dealfinder schedule --cron "0 */6 * * *"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		expr := cfg.Schedule.Cron
		if scheduleCron != "" {
			expr = scheduleCron
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		reg := prometheus.NewRegistry()
		metrics := convergence.NewPrometheusCollector(reg)
		shutdown := startMetricsServer(reg)
		defer shutdown()

		stopCh := make(chan struct{})
		var running sync.Mutex
		job := func() {
			if !running.TryLock() {
				logger.Warn("previous run still in progress, skipping")
				return
			}
			defer running.Unlock()
			_, err := runOnce(ctx, metrics, stopCh, true)
			switch {
			case errors.Is(err, storage.ErrLocked):
				logger.Warn("data directory locked by another process, skipping")
			case err != nil:
				logger.Error("scheduled run failed", zap.Error(err))
			}
		}

		c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger))))
		if _, err := c.AddFunc(expr, job); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		c.Start()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Scheduled with %q (Ctrl+C to stop)\n", green("✓"), expr)

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		<-sigCh
		fmt.Println("\nStopping scheduler (Ctrl+C again to cancel the current run)...")
		close(stopCh)
		go func() {
			<-sigCh
			cancel()
		}()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "Override schedule.cron (standard 5-field expression)")
	rootCmd.AddCommand(scheduleCmd)
}

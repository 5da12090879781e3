package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/dealfinder/internal/storage"
)

var ledgerResetYes bool

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or reset the processed-URL ledger",
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger totals by outcome and source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(func(ctx context.Context, stores *storage.Stores) error {
			stats, err := stores.Ledger.Stats(ctx)
			if err != nil {
				return err
			}
			printLedgerStats(stats)
			return nil
		})
	},
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check <url>...",
	Short: "Show whether URLs have been processed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(func(ctx context.Context, stores *storage.Stores) error {
			gray := color.New(color.FgHiBlack).SprintFunc()
			for _, url := range args {
				e, ok, err := stores.Ledger.Get(ctx, url)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Printf("%s %s\n", gray("new      "), url)
					continue
				}
				line := fmt.Sprintf("%-9s %s  (%s", e.Outcome, url, e.ProcessedAt.Local().Format("2006-01-02 15:04"))
				if e.CanonicalKey != "" {
					line += ", deal " + e.CanonicalKey[:12]
				}
				fmt.Println(line + ")")
			}
			return nil
		})
	},
}

var ledgerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every processed URL",
	Long: `Forget every processed URL so the next run re-extracts everything.
The checkpoint and review decisions are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ledgerResetYes {
			return fmt.Errorf("refusing to reset the ledger without --yes")
		}
		lockPath, err := storage.AcquireLock(cfg.Storage.DataDir, "dealfinder ledger reset", Version)
		if err != nil {
			return err
		}
		defer storage.ReleaseLock(lockPath)

		return withStores(func(ctx context.Context, stores *storage.Stores) error {
			if err := stores.Ledger.Reset(ctx); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Ledger cleared\n", green("✓"))
			return nil
		})
	},
}

// withStores opens the configured stores for the duration of fn.
func withStores(fn func(ctx context.Context, stores *storage.Stores) error) error {
	ctx := context.Background()
	stores, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer stores.Close()
	return fn(ctx, stores)
}

func init() {
	ledgerResetCmd.Flags().BoolVar(&ledgerResetYes, "yes", false, "Confirm the reset")
	ledgerCmd.AddCommand(ledgerStatsCmd, ledgerCheckCmd, ledgerResetCmd)
	rootCmd.AddCommand(ledgerCmd)
}

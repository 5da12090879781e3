package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/dealfinder/internal/export"
	"github.com/steveyegge/dealfinder/internal/storage"
)

var (
	exportOut      string
	exportEvidence string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the checkpointed deal set to a workbook",
	Long: `Write the canonical deal set from the latest checkpoint to an Excel workbook,
with review decisions in the last column, and optionally the evidence log.

Example:
  $ dealfinder export -o deals.xlsx --evidence evidence.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(func(ctx context.Context, stores *storage.Stores) error {
			records, runID, err := recordsFromCheckpoint(ctx, stores)
			if err != nil {
				return err
			}
			decisions, err := stores.Decisions.Decisions(ctx)
			if err != nil {
				return err
			}

			out := exportOut
			if out == "" {
				out = cfg.OutputPath(fmt.Sprintf("deals_%s.xlsx", shortID(runID)))
			}
			if err := export.WriteExcel(out, records, decisions); err != nil {
				return err
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s Wrote %d deals to %s\n", green("✓"), len(records), out)

			if exportEvidence != "" {
				if err := export.WriteEvidence(exportEvidence, records); err != nil {
					return err
				}
				fmt.Printf("%s Wrote evidence to %s\n", green("✓"), exportEvidence)
			}

			q := export.CheckQuality(records)
			fmt.Printf("Quality: %s (%d need review, %d missing financials)\n", q.Status, q.NeedsReview, q.MissingFinancials)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Workbook path (default output.dir/deals_<run>.xlsx)")
	exportCmd.Flags().StringVar(&exportEvidence, "evidence", "", "Also write the evidence log to this path")
	rootCmd.AddCommand(exportCmd)
}

package main

import (
	"context"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/dealfinder/internal/repl"
	"github.com/steveyegge/dealfinder/internal/storage"
)

var (
	reviewAll      bool
	reviewReviewer string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Interactively confirm or reject deals flagged for review",
	Long: `Walk through the deals flagged needs_review in the latest checkpoint and record a
decision for each. Decisions are keyed by canonical key, so they survive later
runs and appear in every export.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStores(func(ctx context.Context, stores *storage.Stores) error {
			records, _, err := recordsFromCheckpoint(ctx, stores)
			if err != nil {
				return err
			}
			reviewer := reviewReviewer
			if reviewer == "" {
				if u, err := user.Current(); err == nil {
					reviewer = u.Username
				}
			}
			r, err := repl.New(ctx, &repl.Config{
				Store:       stores.Decisions,
				Records:     records,
				Reviewer:    reviewer,
				All:         reviewAll,
				Out:         os.Stdout,
				HistoryFile: filepath.Join(cfg.Storage.DataDir, "review_history"),
			})
			if err != nil {
				return err
			}
			return r.Run()
		})
	},
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewAll, "all", false, "Include deals that already have a decision")
	reviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Name recorded with each decision (default current user)")
	rootCmd.AddCommand(reviewCmd)
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/dealfinder/internal/types"
)

var (
	keyTarget   string
	keyAcquirer string
	keyAsset    string
	keyDate     string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the normalized identity and canonical key of a deal",
	Long: `Print the normalized identity and canonical key for raw deal fields, using the
configured aliases and legal suffixes. Useful for checking why two records did
or did not collapse into one deal.

Example:
  $ dealfinder key --target "Arena Pharmaceuticals, Inc." --acquirer Pfizer --date 2021-12-13`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := time.Parse(types.DateLayout, keyDate); err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		canon, err := buildCanonicalizer()
		if err != nil {
			return err
		}
		id := canon.Identity(keyTarget, keyAcquirer, keyAsset, keyDate)
		fmt.Printf("target:   %s\n", id.Target)
		fmt.Printf("acquirer: %s\n", id.Acquirer)
		fmt.Printf("asset:    %s\n", id.Asset)
		fmt.Printf("date:     %s\n", id.Date)
		fmt.Printf("key:      %s\n", id.Key())
		return nil
	},
}

func init() {
	keyCmd.Flags().StringVar(&keyTarget, "target", "", "Target company")
	keyCmd.Flags().StringVar(&keyAcquirer, "acquirer", "", "Acquirer or licensee")
	keyCmd.Flags().StringVar(&keyAsset, "asset", "", "Asset name (empty means undisclosed)")
	keyCmd.Flags().StringVar(&keyDate, "date", "", "Announcement date, YYYY-MM-DD")
	_ = keyCmd.MarkFlagRequired("target")
	_ = keyCmd.MarkFlagRequired("acquirer")
	_ = keyCmd.MarkFlagRequired("date")
	rootCmd.AddCommand(keyCmd)
}

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/ledger/ledgertest"
)

// setupTestLedger connects to DEALFINDER_TEST_POSTGRES_URL and empties the
// ledger table. Tests are skipped when no database is configured.
func setupTestLedger(t *testing.T) *Ledger {
	url := os.Getenv("DEALFINDER_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("DEALFINDER_TEST_POSTGRES_URL not set")
	}

	cfg := DefaultConfig()
	cfg.URL = url
	l, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Skipf("Skipping PostgreSQL test (database not available): %v", err)
	}
	if err := l.Reset(context.Background()); err != nil {
		t.Fatalf("Failed to clean up test database: %v", err)
	}
	return l
}

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return setupTestLedger(t)
	})
}

package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListIsOrderedAndComplete(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	for i := 1; i < len(all); i++ {
		require.Less(t, all[i-1].Version, all[i].Version)
	}

	var schema strings.Builder
	for _, m := range all {
		schema.WriteString(m.SQL)
	}
	for _, table := range []string{
		"ledger_accounts", "financial_movements", "documents", "document_lines", "receivables",
		"installments", "loans", "products", "stock_adjustments", "expenses", "counterparties",
		"retention_certificates", "retention_details", "tax_payments", "tax_period_closures",
		"audit_entries", "quotations", "quotation_lines", "notifications", "exchange_rates",
		"idempotency_keys",
	} {
		require.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
}

func TestInstallmentsHaveExactlyOneParent(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	var found bool
	for _, m := range all {
		if strings.Contains(m.SQL, "num_nonnulls(receivable_id, loan_id) = 1") {
			found = true
		}
	}
	require.True(t, found)
}

func TestDocumentLinesCarryUnitCost(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	last := all[len(all)-1]
	require.Equal(t, "0004_line_unit_cost.sql", last.Version)
	require.Contains(t, last.SQL, "ADD COLUMN IF NOT EXISTS unit_cost")
}

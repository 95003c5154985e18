package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSplitIGV(t *testing.T) {
	subtotal, tax := SplitIGV(decimal.RequireFromString("118"))
	require.True(t, subtotal.Equal(decimal.RequireFromString("100")))
	require.True(t, tax.Equal(decimal.RequireFromString("18")))

	subtotal, tax = SplitIGV(decimal.RequireFromString("250.00"))
	require.Equal(t, "211.86", subtotal.StringFixed(2))
	require.Equal(t, "38.14", tax.StringFixed(2))
	require.True(t, subtotal.Add(tax).Equal(decimal.RequireFromString("250")))
}

func TestPeriodNavigation(t *testing.T) {
	p, err := ParsePeriod("2024-01")
	require.NoError(t, err)
	require.Equal(t, "2023-12", p.Previous().String())
	require.Equal(t, "2024-02-01", p.End().Format("2006-01-02"))

	_, err = ParsePeriod("2024/01")
	require.ErrorIs(t, err, ErrValidation)
}

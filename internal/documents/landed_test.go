package documents

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestProrateSpreadsByValuePerUnit(t *testing.T) {
	addends := Prorate(dec("100"), []decimal.Decimal{dec("1000"), dec("1000")}, []decimal.Decimal{dec("10"), dec("5")})
	require.Equal(t, "5.00", addends[0].StringFixed(2))
	require.Equal(t, "10.00", addends[1].StringFixed(2))

	// landed value equals goods plus freight
	landed := dec("10").Mul(dec("100").Add(addends[0])).Add(dec("5").Mul(dec("200").Add(addends[1])))
	require.Equal(t, "2100.00", landed.StringFixed(2))
}

func TestProrateWithoutBaseOrFreight(t *testing.T) {
	for _, addends := range [][]decimal.Decimal{
		Prorate(dec("0"), []decimal.Decimal{dec("10")}, []decimal.Decimal{dec("1")}),
		Prorate(dec("50"), []decimal.Decimal{dec("0")}, []decimal.Decimal{dec("1")}),
		Prorate(dec("50"), []decimal.Decimal{dec("10")}, []decimal.Decimal{dec("0")}),
	} {
		require.True(t, addends[0].IsZero())
	}
	require.Empty(t, Prorate(dec("50"), nil, nil))
}

func TestFXDifferenceSign(t *testing.T) {
	purchase := Document{Operation: OperationPurchase, Currency: "USD", ExchangeRate: dec("3.70")}
	sale := Document{Operation: OperationSale, Currency: "USD", ExchangeRate: dec("3.70")}
	local := Document{Operation: OperationSale, Currency: "PEN", ExchangeRate: dec("1")}

	require.Equal(t, "-10.00", FXDifference(purchase, dec("100"), dec("3.80")).StringFixed(2))
	require.Equal(t, "10.00", FXDifference(sale, dec("100"), dec("3.80")).StringFixed(2))
	require.True(t, FXDifference(local, dec("100"), dec("3.80")).IsZero())
}

func TestReceivableSettleAndRetotal(t *testing.T) {
	acct := Receivable{Total: dec("100"), Pending: dec("100"), Status: StatusPending}

	require.True(t, acct.Settle(dec("40")).IsZero())
	require.Equal(t, StatusPartial, acct.Status)
	require.Equal(t, "40.00", acct.Applied().StringFixed(2))

	acct.Retotal(dec("150"))
	require.Equal(t, "110.00", acct.Pending.StringFixed(2))

	acct.Retotal(dec("30"))
	require.True(t, acct.Pending.IsZero())
	require.Equal(t, StatusSettled, acct.Status)

	other := Receivable{Total: dec("10"), Pending: dec("10")}
	require.Equal(t, "5.00", other.Settle(dec("15")).StringFixed(2))
	require.True(t, other.Pending.IsZero())
}

func TestSplitSeriesNumber(t *testing.T) {
	series, number, err := SplitSeriesNumber(" f001-000123 ")
	require.NoError(t, err)
	require.Equal(t, "F001", series)
	require.Equal(t, "000123", number)

	_, _, err = SplitSeriesNumber("F001")
	require.Error(t, err)
}

package shared

import "github.com/shopspring/decimal"

// Currencies handled by the ledger.
const (
	CurrencyPEN = "PEN"
	CurrencyUSD = "USD"
	// BaseCurrency is the currency tax liabilities are reported in.
	BaseCurrency = CurrencyPEN
)

// IGVFactor grosses a net amount up by the 18% IGV rate.
var IGVFactor = decimal.RequireFromString("1.18")

// Round2 rounds a money amount to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SplitIGV derives subtotal and tax from a tax-inclusive total.
func SplitIGV(total decimal.Decimal) (subtotal, tax decimal.Decimal) {
	subtotal = total.Div(IGVFactor).Round(2)
	return subtotal, total.Sub(subtotal)
}

// ValidCurrency reports whether code is a supported currency.
func ValidCurrency(code string) bool {
	return code == CurrencyPEN || code == CurrencyUSD
}

package documents

import "github.com/shopspring/decimal"

// Prorate distributes freight over inventory lines by value and returns the
// per-unit cost addend of each line: freight × (subtotal_i / Σ subtotal) / qty_i.
// Lines with zero quantity get a zero addend.
func Prorate(freight decimal.Decimal, subtotals, quantities []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(subtotals))
	base := decimal.Zero
	for _, s := range subtotals {
		base = base.Add(s)
	}
	for i := range out {
		out[i] = decimal.Zero
		if !freight.IsPositive() || !base.IsPositive() || !quantities[i].IsPositive() {
			continue
		}
		share := freight.Mul(subtotals[i]).Div(base)
		out[i] = share.Div(quantities[i])
	}
	return out
}

// LineSubtotal is quantity × unit price rounded to cents.
func LineSubtotal(qty, price decimal.Decimal) decimal.Decimal {
	return qty.Mul(price).Round(2)
}

package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

var (
	// ErrProductNotFound indicates a missing product.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
	// ErrInvalidQuantity rejects zero or negative adjustment quantities.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrValidation)
	// ErrNegativeStock rejects movements driving stock below zero when disallowed.
	ErrNegativeStock = fmt.Errorf("inventory: stock would become negative: %w", shared.ErrValidation)
)

// DefaultCategory is assigned to auto-created products.
const DefaultCategory = "General"

// PriceAlertThreshold is the relative purchase price increase that raises
// a notification.
var PriceAlertThreshold = decimal.RequireFromString("0.05")

// Product is a catalog item with a running stock quantity.
type Product struct {
	ID            int64
	CompanyID     int64
	Category      string
	SKU           string
	Name          string
	AltNames      []string
	Stock         decimal.Decimal
	PurchasePrice decimal.Decimal
	SalePrice     decimal.Decimal
	CreatedAt     time.Time
}

// AdjustmentType tells manual adjustments apart.
type AdjustmentType string

const (
	AdjustIn  AdjustmentType = "IN"
	AdjustOut AdjustmentType = "OUT"
)

// Adjustment is a manual stock correction.
type Adjustment struct {
	ID        int64
	CompanyID int64
	ProductID int64
	Type      AdjustmentType
	Qty       decimal.Decimal
	Reason    string
	UserID    int64
	At        time.Time
}

// ProductInput creates a catalog product.
type ProductInput struct {
	Category      string
	SKU           string
	Name          string
	PurchasePrice decimal.Decimal
	SalePrice     decimal.Decimal
}

// AdjustmentInput requests a manual stock correction.
type AdjustmentInput struct {
	ProductID int64
	Type      AdjustmentType
	Qty       decimal.Decimal
	Reason    string
}

// StockEvent is one signed stock change read back for the kardex.
type StockEvent struct {
	At        time.Time
	Source    string
	Reference string
	Qty       decimal.Decimal
	UnitPrice decimal.Decimal
}

// StockCardEntry is a kardex row with the running balance after it.
type StockCardEntry struct {
	At        time.Time
	Source    string
	Reference string
	QtyIn     decimal.Decimal
	QtyOut    decimal.Decimal
	Balance   decimal.Decimal
	UnitPrice decimal.Decimal
}

// PriceChange reports a purchase price update.
type PriceChange struct {
	Product Product
	Old     decimal.Decimal
	New     decimal.Decimal
}

// Significant reports an increase above PriceAlertThreshold.
func (c PriceChange) Significant() bool {
	if !c.Old.IsPositive() {
		return false
	}
	limit := c.Old.Mul(decimal.NewFromInt(1).Add(PriceAlertThreshold))
	return c.New.GreaterThan(limit)
}

// Deltas accumulates signed stock changes per product so each product is
// touched once per operation.
type Deltas struct {
	byProduct map[int64]decimal.Decimal
}

// NewDeltas builds an empty accumulator.
func NewDeltas() *Deltas {
	return &Deltas{byProduct: map[int64]decimal.Decimal{}}
}

// Add accumulates qty for productID.
func (d *Deltas) Add(productID int64, qty decimal.Decimal) {
	d.byProduct[productID] = d.byProduct[productID].Add(qty)
}

// Get returns the accumulated change for productID.
func (d *Deltas) Get(productID int64) decimal.Decimal {
	return d.byProduct[productID]
}

// ProductIDs lists touched products in ascending order, which is also the
// row lock order.
func (d *Deltas) ProductIDs() []int64 {
	ids := make([]int64, 0, len(d.byProduct))
	for id := range d.byProduct {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// BuildStockCard orders events by time and computes the running balance.
func BuildStockCard(events []StockEvent) []StockCardEntry {
	sorted := make([]StockEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].At.Before(sorted[b].At) })
	balance := decimal.Zero
	out := make([]StockCardEntry, 0, len(sorted))
	for _, ev := range sorted {
		entry := StockCardEntry{At: ev.At, Source: ev.Source, Reference: ev.Reference, UnitPrice: ev.UnitPrice, QtyIn: decimal.Zero, QtyOut: decimal.Zero}
		if ev.Qty.IsNegative() {
			entry.QtyOut = ev.Qty.Neg()
		} else {
			entry.QtyIn = ev.Qty
		}
		balance = balance.Add(ev.Qty)
		entry.Balance = balance
		out = append(out, entry)
	}
	return out
}

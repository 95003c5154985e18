// Package quotations issues price quotations to prospective customers.
package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

type QuotationStatus string

const (
	QuotationStatusPending  QuotationStatus = "PENDING"
	QuotationStatusAccepted QuotationStatus = "ACCEPTED"
	QuotationStatusRejected QuotationStatus = "REJECTED"
)

// Defaults printed on a quotation when the request leaves them out.
const (
	DefaultValidityDays = 5
	DefaultWarranty     = "12 months"
	DefaultDelivery     = "Immediate"
	NumberPrefix        = "COT-"
)

type Quotation struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	Number       string          `json:"number"`
	QuoteDate    time.Time       `json:"quote_date"`
	ValidityDays int             `json:"validity_days"`
	ClientTaxID  string          `json:"client_tax_id"`
	ClientName   string          `json:"client_name"`
	Address      string          `json:"address,omitempty"`
	Attention    string          `json:"attention,omitempty"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Total        decimal.Decimal `json:"total"`
	Warranty     string          `json:"warranty"`
	DeliveryTime string          `json:"delivery_time"`
	Notes        string          `json:"notes,omitempty"`
	Status       QuotationStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	Lines        []QuotationLine `json:"lines,omitempty"`
}

// ValidUntil is the last day the prices hold.
func (q Quotation) ValidUntil() time.Time {
	return q.QuoteDate.AddDate(0, 0, q.ValidityDays)
}

// Breakdown splits the tax-inclusive total.
func (q Quotation) Breakdown() (subtotal, tax decimal.Decimal) {
	return shared.SplitIGV(q.Total)
}

type QuotationLine struct {
	ID          int64           `json:"id"`
	QuotationID int64           `json:"quotation_id"`
	ProductID   *int64          `json:"product_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineOrder   int             `json:"line_order"`
}

// LineTotal is quantity times unit price.
func (l QuotationLine) LineTotal() decimal.Decimal {
	return shared.Round2(l.Quantity.Mul(l.UnitPrice))
}

package quotations

import "github.com/shopspring/decimal"

type CreateQuotationRequest struct {
	QuoteDate    string                   `json:"quote_date"`
	ValidityDays int                      `json:"validity_days" validate:"gte=0,lte=365"`
	ClientTaxID  string                   `json:"client_tax_id" validate:"required,max=20"`
	ClientName   string                   `json:"client_name" validate:"required,max=200"`
	Address      string                   `json:"address" validate:"max=300"`
	Attention    string                   `json:"attention" validate:"max=100"`
	Currency     string                   `json:"currency" validate:"required,oneof=PEN USD"`
	ExchangeRate decimal.Decimal          `json:"exchange_rate"`
	Warranty     string                   `json:"warranty" validate:"max=100"`
	DeliveryTime string                   `json:"delivery_time" validate:"max=100"`
	Notes        string                   `json:"notes"`
	Lines        []CreateQuotationLineReq `json:"lines" validate:"required,min=1,dive"`
}

type CreateQuotationLineReq struct {
	ProductID   *int64          `json:"product_id,omitempty"`
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineOrder   int             `json:"line_order" validate:"gte=0"`
}

type UpdateQuotationRequest struct {
	ValidityDays *int                      `json:"validity_days,omitempty" validate:"omitempty,gte=0,lte=365"`
	Notes        *string                   `json:"notes,omitempty"`
	Warranty     *string                   `json:"warranty,omitempty" validate:"omitempty,max=100"`
	DeliveryTime *string                   `json:"delivery_time,omitempty" validate:"omitempty,max=100"`
	Lines        *[]CreateQuotationLineReq `json:"lines,omitempty" validate:"omitempty,min=1,dive"`
}

type RejectQuotationRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

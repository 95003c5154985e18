// Package tax reconciles IGV debit and credit against retentions and tax
// payments, and closes monthly periods carrying credit forward.
package tax

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledgercore/internal/shared"
)

// IGVPaymentCode is the tax code of IGV payments.
const IGVPaymentCode = "1011"

var (
	// ErrDuplicateCertificate rejects a certificate already registered for
	// the same withholding agent.
	ErrDuplicateCertificate = fmt.Errorf("tax: retention certificate already registered: %w", shared.ErrDuplicate)
	// ErrDuplicatePayment rejects a tax payment already registered.
	ErrDuplicatePayment = fmt.Errorf("tax: tax payment already registered: %w", shared.ErrDuplicate)
	// ErrCloseInProgress is returned when another close holds the period.
	ErrCloseInProgress = errors.New("tax: period close in progress")
)

// Options tune the reconciliation.
type Options struct {
	// ExcludeShieldCredit leaves tax shield purchases out of the IGV credit.
	ExcludeShieldCredit bool
}

// Summary is the IGV position of one period.
type Summary struct {
	CompanyID  int64           `json:"company_id"`
	Period     string          `json:"period"`
	Debit      decimal.Decimal `json:"debit"`
	Credit     decimal.Decimal `json:"credit"`
	Projection decimal.Decimal `json:"projection"`
	Retentions decimal.Decimal `json:"retentions"`
	Payments   decimal.Decimal `json:"payments"`
	CarryIn    decimal.Decimal `json:"carry_in"`
	Liability  decimal.Decimal `json:"liability"`
	Closed     bool            `json:"closed"`
}

// CreditCarry is the credit a close of this summary carries forward.
func (s Summary) CreditCarry() decimal.Decimal {
	if s.Liability.IsNegative() {
		return s.Liability.Abs()
	}
	return decimal.Zero
}

func (s *Summary) compute() {
	s.Projection = s.Debit.Sub(s.Credit)
	s.Liability = s.Projection.Sub(s.Retentions).Sub(s.Payments).Sub(s.CarryIn)
}

// Closure is the persisted result of closing a period.
type Closure struct {
	CompanyID   int64           `json:"company_id"`
	Period      string          `json:"period"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Retentions  decimal.Decimal `json:"retentions"`
	Payments    decimal.Decimal `json:"payments"`
	CarryIn     decimal.Decimal `json:"carry_in"`
	Liability   decimal.Decimal `json:"liability"`
	CreditCarry decimal.Decimal `json:"credit_carry"`
	ClosedAt    time.Time       `json:"closed_at"`
}

// Certificate is a retention certificate issued by a withholding customer.
type Certificate struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	AgentID      int64           `json:"agent_id"`
	SeriesNumber string          `json:"series_number"`
	IssueDate    time.Time       `json:"issue_date"`
	TotalBase    decimal.Decimal `json:"total_base"`
}

// Detail applies part of a certificate to one sale.
type Detail struct {
	ID            int64           `json:"id"`
	CertificateID int64           `json:"certificate_id"`
	DocumentID    int64           `json:"document_id"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	OriginAmount  decimal.Decimal `json:"origin_amount"`
	Rate          decimal.Decimal `json:"rate"`
}

// RetentionLine references one withheld sale.
type RetentionLine struct {
	InvoiceRef   string
	BaseAmount   decimal.Decimal
	OriginAmount decimal.Decimal
	Rate         decimal.Decimal
}

// Origin is the amount that extinguishes debt in the sale's own currency.
// Without an explicit amount it is derived from the base amount and the
// certificate's rate.
func (l RetentionLine) Origin() decimal.Decimal {
	if l.OriginAmount.IsPositive() {
		return l.OriginAmount
	}
	if l.Rate.IsPositive() {
		return shared.Round2(l.BaseAmount.Div(l.Rate))
	}
	return l.BaseAmount
}

// RetentionInput is a parsed retention certificate.
type RetentionInput struct {
	AgentTaxID   string
	AgentName    string
	SeriesNumber string
	IssueDate    time.Time
	TotalBase    decimal.Decimal
	Lines        []RetentionLine
}

// RetentionOutcome reports how a certificate was applied.
type RetentionOutcome struct {
	Certificate Certificate     `json:"certificate"`
	Details     []Detail        `json:"details"`
	Unmatched   []string        `json:"unmatched,omitempty"`
	Excess      decimal.Decimal `json:"excess"`
}

// Payment is a tax paid to the authority.
type Payment struct {
	ID              int64           `json:"id"`
	CompanyID       int64           `json:"company_id"`
	Code            string          `json:"code"`
	Period          string          `json:"period"`
	OperationNumber string          `json:"operation_number"`
	Amount          decimal.Decimal `json:"amount"`
	PaidAt          time.Time       `json:"paid_at"`
	MovementID      int64           `json:"movement_id"`
}

// PaymentInput registers a tax payment.
type PaymentInput struct {
	Code            string
	Period          string
	OperationNumber string
	Amount          decimal.Decimal
	PaidAt          time.Time
	AccountID       *int64
	ITF             decimal.Decimal
}

// TraceLine is one document's contribution to the IGV position.
type TraceLine struct {
	DocumentID   int64           `json:"document_id"`
	IssueDate    time.Time       `json:"issue_date"`
	Code         string          `json:"code"`
	Counterparty string          `json:"counterparty"`
	Operation    string          `json:"operation"`
	Currency     string          `json:"currency"`
	Tax          decimal.Decimal `json:"tax"`
	Rate         decimal.Decimal `json:"rate"`
	TaxBase      decimal.Decimal `json:"tax_base"`
	TaxShield    bool            `json:"tax_shield"`
}
